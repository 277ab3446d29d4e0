package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/internal/queue"
	"github.com/GriffinCanCode/apmagent/model"
	"github.com/GriffinCanCode/apmagent/transport"
)

// ErrClosed is returned by Flush once the dispatcher has stopped.
var ErrClosed = errors.New("dispatcher closed")

// Encoder turns a batch into a transport payload.
type Encoder interface {
	Encode(md *model.Metadata, events []model.Event) (*transport.Payload, error)
}

// Settings are the live dispatch parameters, re-read before every batch.
type Settings struct {
	FlushInterval   time.Duration
	MaxBatchSize    int
	MaxRetries      int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration
}

// SettingsFrom extracts the dispatch parameters from a configuration snapshot.
func SettingsFrom(cfg *config.Snapshot) Settings {
	return Settings{
		FlushInterval:   cfg.Queue.FlushInterval,
		MaxBatchSize:    cfg.Queue.MaxBatchSize,
		MaxRetries:      cfg.Transport.MaxRetries,
		RetryBackoffMin: cfg.Transport.RetryBackoffMin,
		RetryBackoffMax: cfg.Transport.RetryBackoffMax,
	}
}

func (s Settings) normalized() Settings {
	if s.FlushInterval <= 0 {
		s.FlushInterval = 10 * time.Second
	}
	if s.MaxBatchSize <= 0 {
		s.MaxBatchSize = 10
	}
	if s.MaxRetries < 0 {
		s.MaxRetries = 0
	}
	if s.RetryBackoffMin <= 0 {
		s.RetryBackoffMin = time.Second
	}
	if s.RetryBackoffMax < s.RetryBackoffMin {
		s.RetryBackoffMax = s.RetryBackoffMin
	}
	return s
}

// Options wires a dispatcher to its collaborators.
type Options struct {
	Queue     *queue.Queue
	Encoder   Encoder
	Transport transport.Transport
	Metadata  *model.Metadata
	Settings  func() Settings
	Metrics   *monitoring.Metrics
	Logger    *logging.Logger
}

type flushRequest struct {
	done chan error
}

// Dispatcher drains the queue into the transport from one goroutine.
type Dispatcher struct {
	queue     *queue.Queue
	encoder   Encoder
	transport transport.Transport
	metadata  *model.Metadata
	settings  func() Settings
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	warn      *logging.Throttled

	flushes  chan flushRequest
	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	// aborted is cancelled when a Close deadline expires, which cancels the
	// loop's in-flight sends.
	aborted context.Context
	abort   context.CancelFunc
}

// New creates a dispatcher. Run must be called to start it.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	md := opts.Metadata
	if md == nil {
		md = &model.Metadata{}
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.Discard
	}

	logger = logger.Named("dispatch")
	aborted, abort := context.WithCancel(context.Background())
	return &Dispatcher{
		queue:     opts.Queue,
		encoder:   opts.Encoder,
		transport: tr,
		metadata:  md,
		settings:  settings,
		metrics:   opts.Metrics,
		logger:    logger,
		warn:      logging.NewThrottled(logger, time.Minute),
		flushes:   make(chan flushRequest, 16),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		aborted:   aborted,
		abort:     abort,
	}
}

// Run executes the dispatch loop until Close is called or ctx is done. On
// Close it drains what is left in the queue before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.claim(); err != nil {
		return err
	}
	return d.loop(ctx)
}

// Go starts the dispatch loop on g. The dispatcher counts as running as soon
// as Go returns, so a Close issued before the goroutine is scheduled still
// waits for the final drain.
func (d *Dispatcher) Go(ctx context.Context, g *errgroup.Group) error {
	if err := d.claim(); err != nil {
		return err
	}
	g.Go(func() error { return d.loop(ctx) })
	return nil
}

func (d *Dispatcher) claim() error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already running")
	}
	return nil
}

func (d *Dispatcher) loop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer close(d.done)
	defer cancel()
	stopAbort := context.AfterFunc(d.aborted, cancel)
	defer stopAbort()

	d.logger.Debug("Dispatcher started")
	lastFlush := time.Now()
	for {
		s := d.settings().normalized()

		select {
		case <-d.stopping:
			d.shutdown(ctx, s)
			return nil
		case <-ctx.Done():
			d.abandon()
			d.rejectFlushes()
			return nil
		default:
		}

		wait := s.FlushInterval - time.Since(lastFlush)
		batch := d.queue.DequeueBatch(ctx, s.MaxBatchSize, wait)
		// A pending Flush may have woken this batch out of the queue, so its
		// result belongs to the flush as well.
		var sendErr error
		if len(batch) > 0 {
			sendErr = d.send(ctx, s, batch)
		}
		if len(batch) > 0 || time.Since(lastFlush) >= s.FlushInterval {
			lastFlush = time.Now()
		}

		d.serveFlushes(ctx, s, sendErr)
		d.metrics.SetQueueLength(d.queue.Len())
	}
}

// Flush sends everything queued before the call and waits for the result.
// It returns the aggregated send errors, ctx.Err on timeout, or ErrClosed.
func (d *Dispatcher) Flush(ctx context.Context) error {
	select {
	case <-d.stopping:
		return ErrClosed
	default:
	}

	req := flushRequest{done: make(chan error, 1)}
	select {
	case d.flushes <- req:
	case <-d.stopping:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	d.queue.Wake()

	select {
	case err := <-req.done:
		return err
	case <-d.done:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop and waits for the remaining events to be sent. When
// ctx expires first, in-flight sends are cancelled, unsent events are counted
// as dropped and ctx.Err is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.stopping) })
	if !d.started.Load() {
		return nil
	}

	stop := context.AfterFunc(ctx, d.abort)
	defer stop()
	d.queue.Wake()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) serveFlushes(ctx context.Context, s Settings, sendErr error) {
	for {
		select {
		case req := <-d.flushes:
			req.done <- combine(sendErr, d.drain(ctx, s))
		default:
			return
		}
	}
}

// combine merges send errors, keeping a lone error unwrapped.
func combine(errs ...error) error {
	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return result
}

func (d *Dispatcher) rejectFlushes() {
	for {
		select {
		case req := <-d.flushes:
			req.done <- ErrClosed
		default:
			return
		}
	}
}

// drain sends the events that are queued right now, in batches. Events that
// arrive while draining wait for the next cycle.
func (d *Dispatcher) drain(ctx context.Context, s Settings) error {
	var errs []error
	for remaining := d.queue.Len(); remaining > 0; {
		batch := d.queue.TryDequeue(min(remaining, s.MaxBatchSize))
		if len(batch) == 0 {
			break
		}
		remaining -= len(batch)
		if err := d.send(ctx, s, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return combine(errs...)
}

func (d *Dispatcher) shutdown(ctx context.Context, s Settings) {
	d.logger.Debug("Dispatcher draining", zap.Int("queued", d.queue.Len()))
	err := d.drain(ctx, s)
	d.abandon()
	for {
		select {
		case req := <-d.flushes:
			req.done <- err
		default:
			return
		}
	}
}

// abandon counts whatever is still queued as dropped at shutdown.
func (d *Dispatcher) abandon() {
	n := 0
	for {
		batch := d.queue.TryDequeue(128)
		if len(batch) == 0 {
			break
		}
		for _, ev := range batch {
			d.metrics.RecordEventDropped(ev.Kind.String(), monitoring.ReasonShutdown)
		}
		n += len(batch)
	}
	if n > 0 {
		d.logger.Warn("Events abandoned at shutdown", zap.Int("events", n))
	}
	d.metrics.SetQueueLength(0)
}

// send encodes and delivers one batch, retrying transient failures with
// exponential backoff. The batch is dropped after a fatal error, once the
// retries are used up, or when ctx ends.
func (d *Dispatcher) send(ctx context.Context, s Settings, batch []model.Event) error {
	if ctx.Err() != nil {
		d.dropBatch(batch, monitoring.ReasonShutdown)
		return ctx.Err()
	}

	payload, err := d.encoder.Encode(d.metadata, batch)
	if err != nil {
		d.logger.Error("Failed to encode batch", zap.Int("events", len(batch)), zap.Error(err))
		d.dropBatch(batch, monitoring.ReasonEncode)
		return err
	}
	if payload.Events == 0 {
		return nil
	}

	for attempt := 0; ; attempt++ {
		timer := monitoring.NewTimer(d.metrics)
		err := d.transport.Send(ctx, payload)
		if err == nil {
			elapsed := timer.Sent(payload.Events)
			d.logger.Debug("Batch sent",
				zap.Int("events", payload.Events),
				zap.Int("bytes", len(payload.Body)),
				zap.Int("attempts", attempt+1),
				zap.Duration("duration", elapsed))
			return nil
		}
		timer.Failed()

		switch {
		case transport.IsFatal(err):
			d.logger.Error("Collector rejected batch",
				zap.Int("events", payload.Events),
				zap.Int("status", transport.StatusCode(err)),
				zap.Error(err))
			d.dropBatch(batch, monitoring.ReasonFatal)
			return err
		case ctx.Err() != nil:
			d.dropBatch(batch, monitoring.ReasonShutdown)
			return err
		case attempt >= s.MaxRetries:
			d.warn.Warn("send.exhausted", "Dropping batch after retries",
				zap.Int("events", payload.Events),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			d.dropBatch(batch, monitoring.ReasonRetriesExhausted)
			return err
		}

		d.metrics.RecordRetry()
		backoff := retryablehttp.DefaultBackoff(s.RetryBackoffMin, s.RetryBackoffMax, attempt, nil)
		d.logger.Debug("Retrying batch",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		wait := time.NewTimer(backoff)
		select {
		case <-wait.C:
		case <-ctx.Done():
			wait.Stop()
			d.dropBatch(batch, monitoring.ReasonShutdown)
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) dropBatch(batch []model.Event, reason string) {
	d.metrics.RecordBatchDropped(reason)
	for _, ev := range batch {
		d.metrics.RecordEventDropped(ev.Kind.String(), reason)
	}
}
