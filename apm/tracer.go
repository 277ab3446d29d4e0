package apm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/dispatch"
	"github.com/GriffinCanCode/apmagent/internal/encoding"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/internal/metrics"
	"github.com/GriffinCanCode/apmagent/internal/queue"
	"github.com/GriffinCanCode/apmagent/internal/shared/id"
	"github.com/GriffinCanCode/apmagent/model"
	"github.com/GriffinCanCode/apmagent/transport"
)

// MetricsProvider adds samples to the periodic metric set.
type MetricsProvider = metrics.Provider

// TracerOptions configure a new Tracer.
type TracerOptions struct {
	// Config is the initial configuration. Nil loads it from the
	// environment, falling back to defaults.
	Config *config.Snapshot
	// Transport overrides the HTTP transport built from Config.
	Transport transport.Transport
	// Logger receives the agent's own diagnostics. Nil discards them.
	Logger *zap.Logger
	// MetricsProviders replaces the built-in metric providers. An empty,
	// non-nil slice disables them.
	MetricsProviders []MetricsProvider

	ids *id.Generator
}

// Tracer is one instance of the event pipeline: segment tracking, the event
// queue, the dispatcher and the metrics sampler. Tracers are independent of
// each other.
type Tracer struct {
	cfg      atomic.Pointer[config.Snapshot]
	logger   *logging.Logger
	ids      *id.Generator
	store    *segmentStore
	queue    *queue.Queue
	metrics  *monitoring.Metrics
	metadata model.Metadata

	dispatcher *dispatch.Dispatcher
	sampler    *metrics.Sampler

	group     *errgroup.Group
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	throttled *logging.Throttled
}

// NewTracer builds a tracer and starts its background goroutines.
func NewTracer(opts TracerOptions) (*Tracer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.LoadOrDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracer config: %w", err)
	}
	cfg = cfg.Clone()

	logger := logging.NewNop()
	if opts.Logger != nil {
		logger = logging.Wrap(opts.Logger)
	}

	enc, err := encoding.New(cfg.Transport.Protocol, cfg.Transport.Compression)
	if err != nil {
		return nil, err
	}

	tr := opts.Transport
	if tr == nil {
		httpTransport, err := transport.NewHTTPTransport(transport.HTTPOptions{
			ServerURL:   cfg.Transport.ServerURL,
			SecretToken: cfg.Transport.SecretToken,
			APIKey:      cfg.Transport.APIKey,
			Timeout:     cfg.Transport.SendTimeout,
			UserAgent:   fmt.Sprintf("apm-agent-%s/%s", model.AgentName, model.AgentVersion),
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		tr = httpTransport
	}

	ids := opts.ids
	if ids == nil {
		ids = id.Default()
	}

	m := monitoring.NewMetrics()
	md := model.DetectMetadata(cfg.Service.Name, cfg.Service.Version, cfg.Service.Environment, cfg.Service.GlobalLabels)
	t := &Tracer{
		logger:    logger,
		ids:       ids,
		store:     newSegmentStore(logger),
		metrics:   m,
		metadata:  md,
		throttled: logging.NewThrottled(logger, 0),
	}
	t.cfg.Store(cfg)
	t.queue = queue.New(cfg.Queue.MaxQueueSize, queue.ParsePolicy(cfg.Queue.DropPolicy),
		queue.WithMetrics(m), queue.WithLogger(logger))

	t.dispatcher = dispatch.New(dispatch.Options{
		Queue:     t.queue,
		Encoder:   enc,
		Transport: tr,
		Metadata:  &t.metadata,
		Settings:  func() dispatch.Settings { return dispatch.SettingsFrom(t.config()) },
		Metrics:   m,
		Logger:    logger,
	})

	providers := opts.MetricsProviders
	if providers == nil {
		providers = metrics.DefaultProviders(m.Registry())
	}
	t.sampler = metrics.New(metrics.Options{
		Providers: providers,
		Sink:      t.queue.Enqueue,
		Settings:  func() metrics.Settings { return metrics.SettingsFrom(t.config()) },
		Metrics:   m,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.group, ctx = errgroup.WithContext(ctx)
	if err := t.dispatcher.Go(ctx, t.group); err != nil {
		cancel()
		return nil, err
	}
	t.group.Go(func() error { return t.sampler.Run(ctx) })

	logger.Info("Tracer started",
		zap.String("service", t.metadata.Service.Name),
		zap.String("server_url", cfg.Transport.ServerURL),
		zap.String("protocol", cfg.Transport.Protocol))
	return t, nil
}

// config returns the current configuration snapshot.
func (t *Tracer) config() *config.Snapshot {
	return t.cfg.Load()
}

// Config returns the current configuration. The snapshot must not be
// modified; use SetConfig to change it.
func (t *Tracer) Config() *config.Snapshot {
	return t.config()
}

// SetConfig swaps in a new configuration. Running transactions keep the span
// limit they started with; everything else applies from the next operation.
// The queue capacity is fixed at construction.
func (t *Tracer) SetConfig(cfg *config.Snapshot) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.Clone()
	old := t.cfg.Swap(cfg)

	t.queue.SetPolicy(queue.ParsePolicy(cfg.Queue.DropPolicy))
	t.sampler.Reconfigure()
	if old.Queue.MaxQueueSize != cfg.Queue.MaxQueueSize {
		t.logger.Warn("Queue size changes need a new tracer",
			zap.Int("current", t.queue.Cap()),
			zap.Int("requested", cfg.Queue.MaxQueueSize))
	}
	return nil
}

// Metadata returns the process metadata sent with every payload.
func (t *Tracer) Metadata() model.Metadata {
	return t.metadata
}

// Registry returns the Prometheus registry holding the agent's self-metrics.
func (t *Tracer) Registry() *prometheus.Registry {
	return t.metrics.Registry()
}

// Stats is a point-in-time view of the pipeline counters.
type Stats struct {
	Queue             queue.Stats
	Agent             monitoring.Snapshot
	ActiveFlows       int
	DisabledProviders []string
}

// Stats returns the current pipeline counters.
func (t *Tracer) Stats() Stats {
	return Stats{
		Queue:             t.queue.Stats(),
		Agent:             t.metrics.Snapshot(),
		ActiveFlows:       t.store.size(),
		DisabledProviders: t.sampler.Disabled(),
	}
}

// CurrentTransaction returns the transaction active in ctx, or nil.
func (t *Tracer) CurrentTransaction(ctx context.Context) *Transaction {
	return t.store.currentTransaction(ctx)
}

// CurrentSpan returns the innermost span active in ctx, or nil.
func (t *Tracer) CurrentSpan(ctx context.Context) *Span {
	return t.store.currentSpan(ctx)
}

// Recording reports whether the tracer is open and records segments.
func (t *Tracer) Recording() bool {
	return !t.closed.Load() && t.config().Tracing.Recording
}

// Flush sends everything queued so far and waits for the result.
func (t *Tracer) Flush(ctx context.Context) error {
	if t.closed.Load() {
		return dispatch.ErrClosed
	}
	return t.dispatcher.Flush(ctx)
}

// Close stops the tracer. Queued events are sent until ctx is done or, if
// ctx has no deadline, the configured shutdown timeout elapses. Segments
// ended afterwards are discarded.
func (t *Tracer) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.config().Transport.ShutdownTimeout)
			defer cancel()
		}

		var result *multierror.Error
		if err := t.sampler.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics sampler: %w", err))
		}
		// The dispatcher drains against ctx; the loop context is only
		// cancelled once the drain is over or ctx has expired.
		if err := t.dispatcher.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("dispatcher: %w", err))
		}
		t.cancel()
		if err := t.group.Wait(); err != nil {
			result = multierror.Append(result, err)
		}

		stats := t.metrics.Snapshot()
		t.logger.Info("Tracer closed",
			zap.Uint64("events_sent", stats.EventsSent),
			zap.Uint64("events_dropped", stats.EventsDropped),
			zap.Uint64("batches_dropped", stats.BatchesDropped))
		t.closeErr = result.ErrorOrNil()
	})
	return t.closeErr
}

// enqueue hands a record to the queue. It never blocks.
func (t *Tracer) enqueue(ev model.Event) {
	if t.closed.Load() {
		t.metrics.RecordEventDropped(ev.Kind.String(), monitoring.ReasonShutdown)
		return
	}
	t.queue.Enqueue(ev)
}

// recoverPanic keeps a failure inside the agent from reaching the caller.
func (t *Tracer) recoverPanic(op string) {
	if r := recover(); r != nil {
		t.throttled.Error("panic."+op, "Recovered panic in agent",
			zap.String("op", op),
			zap.Any("panic", r))
	}
}
