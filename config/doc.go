// Package config provides 12-factor configuration for the agent.
//
// Configuration is loaded from ELASTIC_APM_* environment variables with
// sensible defaults. A YAML or TOML file can be layered on top with LoadFile.
// The resulting Snapshot is handed to the tracer, which can be reconfigured
// at runtime by passing it a new Snapshot.
//
// Configuration Sections:
//   - Service: service name, version, environment, global labels
//   - Transport: collector URL, credentials, protocol, compression, retries
//   - Tracing: recording switch, sampling rate, span limits, stack traces
//   - Queue: flush interval, batch size, queue capacity, drop policy
//   - Metrics: sample interval, provider failure threshold, disabled metrics
//   - Logging: agent log level and output format
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	cfg, err := config.LoadFile("apm.yaml", cfg)
//
// Environment Variables:
//   - ELASTIC_APM_SERVICE_NAME, ELASTIC_APM_SERVER_URL, ELASTIC_APM_SECRET_TOKEN
//   - ELASTIC_APM_TRANSACTION_SAMPLE_RATE, ELASTIC_APM_TRANSACTION_MAX_SPANS
//   - ELASTIC_APM_FLUSH_INTERVAL, ELASTIC_APM_MAX_BATCH_EVENT_COUNT
//   - ELASTIC_APM_MAX_QUEUE_EVENT_COUNT, ELASTIC_APM_METRICS_INTERVAL
//   - ELASTIC_APM_LOG_LEVEL, ELASTIC_APM_LOG_DEV
package config
