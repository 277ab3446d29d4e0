package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "ELASTIC_APM"

// Queue overflow policies.
const (
	DropNewest = "newest"
	DropOldest = "oldest"
)

// Wire protocols.
const (
	ProtocolIntake = "intake"
	ProtocolOTLP   = "otlp"
)

// Payload compression.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

// Snapshot is a resolved configuration. A tracer treats the snapshot it is
// given as immutable; reconfiguration swaps in a new snapshot.
type Snapshot struct {
	Service   ServiceConfig
	Transport TransportConfig
	Tracing   TracingConfig
	Queue     QueueConfig
	Metrics   MetricsConfig
	Logging   LogConfig
}

// ServiceConfig identifies the instrumented service.
type ServiceConfig struct {
	Name         string            `envconfig:"SERVICE_NAME"`
	Version      string            `envconfig:"SERVICE_VERSION"`
	Environment  string            `envconfig:"ENVIRONMENT"`
	GlobalLabels map[string]string `envconfig:"GLOBAL_LABELS"`
}

// TransportConfig holds collector connection and retry settings.
type TransportConfig struct {
	ServerURL       string        `envconfig:"SERVER_URL" default:"http://localhost:8200"`
	SecretToken     string        `envconfig:"SECRET_TOKEN"`
	APIKey          string        `envconfig:"API_KEY"`
	Protocol        string        `envconfig:"PROTOCOL" default:"intake"`
	Compression     string        `envconfig:"COMPRESSION" default:"gzip"`
	SendTimeout     time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoffMin time.Duration `envconfig:"RETRY_BACKOFF_MIN" default:"1s"`
	RetryBackoffMax time.Duration `envconfig:"RETRY_BACKOFF_MAX" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
}

// TracingConfig holds sampling, per-transaction limits and capture switches.
type TracingConfig struct {
	// Recording=false turns every segment into a no-op.
	Recording bool `envconfig:"RECORDING" default:"true"`
	// TransactionIgnoreURLs are wildcard patterns matched against request paths by adapters.
	TransactionIgnoreURLs []string `envconfig:"TRANSACTION_IGNORE_URLS"`

	TransactionSampleRate float64 `envconfig:"TRANSACTION_SAMPLE_RATE" default:"1.0"`
	// TransactionMaxSpans caps child spans per transaction; negative means unlimited.
	TransactionMaxSpans int `envconfig:"TRANSACTION_MAX_SPANS" default:"500"`
	// SpanStackTraceMinDuration gates stack capture at span end; negative disables capture.
	SpanStackTraceMinDuration time.Duration `envconfig:"SPAN_STACK_TRACE_MIN_DURATION" default:"5ms"`
	StackTraceLimit           int           `envconfig:"STACK_TRACE_LIMIT" default:"50"`
}

// QueueConfig holds batching and buffering settings.
type QueueConfig struct {
	FlushInterval time.Duration `envconfig:"FLUSH_INTERVAL" default:"10s"`
	MaxBatchSize  int           `envconfig:"MAX_BATCH_EVENT_COUNT" default:"10"`
	MaxQueueSize  int           `envconfig:"MAX_QUEUE_EVENT_COUNT" default:"1000"`
	DropPolicy    string        `envconfig:"QUEUE_DROP_POLICY" default:"newest"`
}

// MetricsConfig holds metrics sampler settings.
type MetricsConfig struct {
	// Interval between samples; zero disables collection.
	Interval time.Duration `envconfig:"METRICS_INTERVAL" default:"30s"`
	// ProviderFailureThreshold is the number of consecutive failures after
	// which a provider is disabled.
	ProviderFailureThreshold int `envconfig:"METRICS_PROVIDER_FAILURE_THRESHOLD" default:"5"`
	// Disable holds wildcard patterns of metric names to drop.
	Disable []string `envconfig:"DISABLE_METRICS"`
}

// LogConfig holds agent logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from ELASTIC_APM_* environment variables.
func Load() (*Snapshot, error) {
	var cfg Snapshot
	// Sections are processed one by one so every variable shares the flat
	// ELASTIC_APM_ prefix instead of a per-section one.
	sections := []interface{}{
		&cfg.Service, &cfg.Transport, &cfg.Tracing,
		&cfg.Queue, &cfg.Metrics, &cfg.Logging,
	}
	for _, section := range sections {
		if err := envconfig.Process(EnvPrefix, section); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Snapshot {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Snapshot {
	return &Snapshot{
		Transport: TransportConfig{
			ServerURL:       "http://localhost:8200",
			Protocol:        ProtocolIntake,
			Compression:     CompressionGzip,
			SendTimeout:     30 * time.Second,
			MaxRetries:      3,
			RetryBackoffMin: time.Second,
			RetryBackoffMax: 30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Recording:                 true,
			TransactionSampleRate:     1.0,
			TransactionMaxSpans:       500,
			SpanStackTraceMinDuration: 5 * time.Millisecond,
			StackTraceLimit:           50,
		},
		Queue: QueueConfig{
			FlushInterval: 10 * time.Second,
			MaxBatchSize:  10,
			MaxQueueSize:  1000,
			DropPolicy:    DropNewest,
		},
		Metrics: MetricsConfig{
			Interval:                 30 * time.Second,
			ProviderFailureThreshold: 5,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Clone returns a copy safe to modify without affecting s.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Tracing.TransactionIgnoreURLs = append([]string(nil), s.Tracing.TransactionIgnoreURLs...)
	c.Metrics.Disable = append([]string(nil), s.Metrics.Disable...)
	if s.Service.GlobalLabels != nil {
		c.Service.GlobalLabels = make(map[string]string, len(s.Service.GlobalLabels))
		for k, v := range s.Service.GlobalLabels {
			c.Service.GlobalLabels[k] = v
		}
	}
	return &c
}

var (
	ErrSampleRate    = errors.New("transaction sample rate must be within [0, 1]")
	ErrServerURL     = errors.New("server url must be an absolute http(s) url")
	ErrBatchSize     = errors.New("max batch size must be positive")
	ErrQueueSize     = errors.New("max queue size must be positive")
	ErrFlushInterval = errors.New("flush interval must be positive")
)

// Validate reports every invalid field at once.
func (s *Snapshot) Validate() error {
	var result *multierror.Error

	if s.Tracing.TransactionSampleRate < 0 || s.Tracing.TransactionSampleRate > 1 {
		result = multierror.Append(result, fmt.Errorf("%w: got %v", ErrSampleRate, s.Tracing.TransactionSampleRate))
	}
	if u, err := url.Parse(s.Transport.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result = multierror.Append(result, fmt.Errorf("%w: got %q", ErrServerURL, s.Transport.ServerURL))
	}
	if s.Queue.MaxBatchSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: got %d", ErrBatchSize, s.Queue.MaxBatchSize))
	}
	if s.Queue.MaxQueueSize <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: got %d", ErrQueueSize, s.Queue.MaxQueueSize))
	}
	if s.Queue.FlushInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("%w: got %s", ErrFlushInterval, s.Queue.FlushInterval))
	}
	switch s.Queue.DropPolicy {
	case DropNewest, DropOldest:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown queue drop policy %q", s.Queue.DropPolicy))
	}
	switch s.Transport.Protocol {
	case ProtocolIntake, ProtocolOTLP:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown protocol %q", s.Transport.Protocol))
	}
	switch s.Transport.Compression {
	case CompressionGzip, CompressionZstd, CompressionNone:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown compression %q", s.Transport.Compression))
	}
	if s.Transport.MaxRetries < 0 {
		result = multierror.Append(result, fmt.Errorf("max retries must not be negative: got %d", s.Transport.MaxRetries))
	}
	if s.Metrics.Interval < 0 {
		result = multierror.Append(result, fmt.Errorf("metrics interval must not be negative: got %s", s.Metrics.Interval))
	}

	return result.ErrorOrNil()
}
