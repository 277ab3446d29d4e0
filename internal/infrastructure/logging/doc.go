// Package logging provides structured logging for the agent using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// The agent's own diagnostics (dropped events, transport failures, disabled
// metric providers) go through this logger. Hosts may hand in their own
// *zap.Logger with Wrap.
//
// Features:
//   - Zero-allocation logging in production
//   - Structured fields for context
//   - Per-key throttling of repetitive warnings (Throttled)
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Tracer started", zap.String("service", "checkout"))
//
//	throttled := logging.NewThrottled(logger, time.Minute)
//	throttled.Warn("queue.full", "Event queue full, dropping event")
package logging
