/*
Package dispatch owns the single background goroutine that moves events from
the queue to the collector.

# Overview

The dispatcher collects batches from the queue, encodes them and hands them
to the transport. A batch is sent as soon as it reaches the configured size
or once the flush interval has passed since the previous flush, whichever
comes first. Sends are never concurrent.

# Features

  - Size and interval triggered batching
  - Exponential backoff on transient failures, bounded by a retry limit
  - Fatal collector rejections drop the batch without retrying
  - Explicit Flush that drains everything queued before the call
  - Bounded shutdown that counts abandoned events as dropped

# Usage

	d := dispatch.New(dispatch.Options{
	    Queue:     q,
	    Encoder:   enc,
	    Transport: tr,
	    Metadata:  &md,
	    Settings:  func() dispatch.Settings { return dispatch.SettingsFrom(cfg()) },
	})
	go d.Run(ctx)
	defer d.Close(shutdownCtx)
*/
package dispatch
