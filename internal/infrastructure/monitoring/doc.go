/*
Package monitoring provides self-observability metrics for the agent.

# Overview

This package implements Prometheus-based metrics describing the agent's own
event pipeline: how many events were queued, dropped and sent, how batches
fared against the collector, and which metric providers were disabled.

# Features

- Queue metrics (enqueued, dropped by kind and reason, current length)
- Dispatch metrics (batches sent or dropped, retries, send latency)
- Span limit metrics (spans rejected per transaction cap)
- Sampler metrics (providers disabled after repeated failures)
- In-process Snapshot for tests and the tracer's Stats API

# Usage

	// Each tracer owns a registry
	metrics := monitoring.NewMetrics()

	metrics.RecordEnqueued("span")

	// Time a send attempt
	timer := monitoring.NewTimer(metrics)
	if err := send(); err == nil {
		timer.Sent(len(batch))
	}

All methods are safe on a nil *Metrics, which records nothing.

# Metrics Endpoint

Expose the registry via the standard Prometheus handler:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
*/
package monitoring
