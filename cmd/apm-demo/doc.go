// Package main is a small gin service instrumented with the agent.
//
// It shows the wiring a host process needs: configuration from the
// environment (optionally seeded from a .env file) overlaid with a config
// file, a tracer, the gin middleware, an instrumented HTTP client for
// outgoing calls, and the agent's self-metrics on /metrics.
//
// Usage:
//
//	./apm-demo -addr :8080 -config apm.yaml
//
//	# Development mode (console logs, debug level)
//	./apm-demo -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown, flushing queued events
package main
