package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// fileConfig mirrors Snapshot for config files. Pointer fields distinguish
// "absent" from the zero value so a file only overrides what it names.
// Durations are strings in Go duration syntax ("250ms", "10s").
type fileConfig struct {
	ServiceName    *string           `yaml:"service_name" toml:"service_name"`
	ServiceVersion *string           `yaml:"service_version" toml:"service_version"`
	Environment    *string           `yaml:"environment" toml:"environment"`
	GlobalLabels   map[string]string `yaml:"global_labels" toml:"global_labels"`

	ServerURL       *string `yaml:"server_url" toml:"server_url"`
	SecretToken     *string `yaml:"secret_token" toml:"secret_token"`
	APIKey          *string `yaml:"api_key" toml:"api_key"`
	Protocol        *string `yaml:"protocol" toml:"protocol"`
	Compression     *string `yaml:"compression" toml:"compression"`
	SendTimeout     *string `yaml:"server_timeout" toml:"server_timeout"`
	MaxRetries      *int    `yaml:"max_retries" toml:"max_retries"`
	RetryBackoffMin *string `yaml:"retry_backoff_min" toml:"retry_backoff_min"`
	RetryBackoffMax *string `yaml:"retry_backoff_max" toml:"retry_backoff_max"`
	ShutdownTimeout *string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	TransactionSampleRate     *float64 `yaml:"transaction_sample_rate" toml:"transaction_sample_rate"`
	TransactionMaxSpans       *int     `yaml:"transaction_max_spans" toml:"transaction_max_spans"`
	SpanStackTraceMinDuration *string  `yaml:"span_stack_trace_min_duration" toml:"span_stack_trace_min_duration"`
	StackTraceLimit           *int     `yaml:"stack_trace_limit" toml:"stack_trace_limit"`

	FlushInterval *string `yaml:"flush_interval" toml:"flush_interval"`
	MaxBatchSize  *int    `yaml:"max_batch_event_count" toml:"max_batch_event_count"`
	MaxQueueSize  *int    `yaml:"max_queue_event_count" toml:"max_queue_event_count"`
	DropPolicy    *string `yaml:"queue_drop_policy" toml:"queue_drop_policy"`

	MetricsInterval          *string  `yaml:"metrics_interval" toml:"metrics_interval"`
	ProviderFailureThreshold *int     `yaml:"metrics_provider_failure_threshold" toml:"metrics_provider_failure_threshold"`
	DisableMetrics           []string `yaml:"disable_metrics" toml:"disable_metrics"`

	LogLevel       *string `yaml:"log_level" toml:"log_level"`
	LogDevelopment *bool   `yaml:"log_dev" toml:"log_dev"`

	Recording             *bool    `yaml:"recording" toml:"recording"`
	TransactionIgnoreURLs []string `yaml:"transaction_ignore_urls" toml:"transaction_ignore_urls"`
}

// LoadFile reads a YAML (.yaml, .yml) or TOML (.toml) file and applies it
// on top of base. base is not modified.
func LoadFile(path string, base *Snapshot) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if base == nil {
		base = Default()
	}
	cfg := base.Clone()
	if err := fc.apply(cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Snapshot) error {
	setString(&cfg.Service.Name, fc.ServiceName)
	setString(&cfg.Service.Version, fc.ServiceVersion)
	setString(&cfg.Service.Environment, fc.Environment)
	if fc.GlobalLabels != nil {
		cfg.Service.GlobalLabels = fc.GlobalLabels
	}

	setString(&cfg.Transport.ServerURL, fc.ServerURL)
	setString(&cfg.Transport.SecretToken, fc.SecretToken)
	setString(&cfg.Transport.APIKey, fc.APIKey)
	setString(&cfg.Transport.Protocol, fc.Protocol)
	setString(&cfg.Transport.Compression, fc.Compression)
	setInt(&cfg.Transport.MaxRetries, fc.MaxRetries)

	setInt(&cfg.Tracing.TransactionMaxSpans, fc.TransactionMaxSpans)
	setInt(&cfg.Tracing.StackTraceLimit, fc.StackTraceLimit)
	if fc.TransactionSampleRate != nil {
		cfg.Tracing.TransactionSampleRate = *fc.TransactionSampleRate
	}

	setInt(&cfg.Queue.MaxBatchSize, fc.MaxBatchSize)
	setInt(&cfg.Queue.MaxQueueSize, fc.MaxQueueSize)
	setString(&cfg.Queue.DropPolicy, fc.DropPolicy)

	setInt(&cfg.Metrics.ProviderFailureThreshold, fc.ProviderFailureThreshold)
	if fc.DisableMetrics != nil {
		cfg.Metrics.Disable = fc.DisableMetrics
	}

	setString(&cfg.Logging.Level, fc.LogLevel)
	if fc.LogDevelopment != nil {
		cfg.Logging.Development = *fc.LogDevelopment
	}
	if fc.Recording != nil {
		cfg.Tracing.Recording = *fc.Recording
	}
	if fc.TransactionIgnoreURLs != nil {
		cfg.Tracing.TransactionIgnoreURLs = fc.TransactionIgnoreURLs
	}

	durations := []struct {
		name string
		src  *string
		dst  *time.Duration
	}{
		{"server_timeout", fc.SendTimeout, &cfg.Transport.SendTimeout},
		{"retry_backoff_min", fc.RetryBackoffMin, &cfg.Transport.RetryBackoffMin},
		{"retry_backoff_max", fc.RetryBackoffMax, &cfg.Transport.RetryBackoffMax},
		{"shutdown_timeout", fc.ShutdownTimeout, &cfg.Transport.ShutdownTimeout},
		{"span_stack_trace_min_duration", fc.SpanStackTraceMinDuration, &cfg.Tracing.SpanStackTraceMinDuration},
		{"flush_interval", fc.FlushInterval, &cfg.Queue.FlushInterval},
		{"metrics_interval", fc.MetricsInterval, &cfg.Metrics.Interval},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}
