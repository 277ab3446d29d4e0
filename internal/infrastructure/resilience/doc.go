/*
Package resilience provides circuit breaker implementation for graceful degradation.

# Overview

This package implements the circuit breaker pattern used by the agent's
transport. When the collector is unavailable the breaker opens and sends fail
fast instead of piling up retries against a dead endpoint.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Automatic state transitions
- Concurrent request handling
- Pluggable failure classification (IsSuccessful) so permanent
  rejections surface to the caller without tripping the circuit
- Context-aware execution; cancelled requests are not counted
- State change callbacks for monitoring
- Thread-safe operations

# Usage

	// Create a circuit breaker
	breaker := resilience.New("service", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("name", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	// Execute request through breaker
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return transport.Send(ctx, payload)
	})

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
