/*
Package metrics samples process and runtime metrics on a timer and feeds
them into the event queue as metric sets.

# Overview

A Sampler owns a list of providers and its own goroutine. On every tick it
asks each enabled provider to add samples to a fresh metric set, filters out
disabled metric names and hands the set to the sink. A zero interval pauses
sampling until the configuration changes.

# Providers

  - runtime: Go heap, GC and goroutine statistics
  - process: CPU and memory of the current process from procfs
  - system: host memory and CPU from procfs
  - prometheus: counters, gauges and histograms from a prometheus.Gatherer

A provider that fails a configured number of times in a row is disabled for
the life of the sampler. Other providers keep running.

# Usage

	s := metrics.New(metrics.Options{
	    Providers: metrics.DefaultProviders(registry),
	    Sink:      q.Enqueue,
	    Settings:  func() metrics.Settings { return metrics.SettingsFrom(cfg()) },
	})
	go s.Run(ctx)
*/
package metrics
