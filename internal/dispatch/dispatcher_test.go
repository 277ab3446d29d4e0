package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/encoding"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/internal/queue"
	"github.com/GriffinCanCode/apmagent/internal/testutil"
	"github.com/GriffinCanCode/apmagent/model"
	"github.com/GriffinCanCode/apmagent/transport"
)

type harness struct {
	d       *Dispatcher
	queue   *queue.Queue
	metrics *monitoring.Metrics
	tr      *testutil.RecordingTransport
}

func newHarness(t *testing.T, tr *testutil.RecordingTransport, s Settings) *harness {
	t.Helper()
	enc, err := encoding.New(config.ProtocolIntake, config.CompressionNone)
	require.NoError(t, err)
	return newHarnessWithEncoder(t, tr, enc, s)
}

func newHarnessWithEncoder(t *testing.T, tr *testutil.RecordingTransport, enc Encoder, s Settings) *harness {
	t.Helper()
	m := monitoring.NewMetrics()
	q := queue.New(100, queue.DropNewest, queue.WithMetrics(m))
	md := model.DetectMetadata("dispatch-test", "", "", nil)
	d := New(Options{
		Queue:     q,
		Encoder:   enc,
		Transport: tr,
		Metadata:  &md,
		Settings:  func() Settings { return s },
		Metrics:   m,
	})
	return &harness{d: d, queue: q, metrics: m, tr: tr}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	go func() { _ = h.d.Run(context.Background()) }()
	require.Eventually(t, h.d.started.Load, time.Second, time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.d.Close(ctx)
	})
}

func (h *harness) enqueue(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, h.queue.Enqueue(model.SpanEvent(&model.Span{Name: "s", Type: "custom"})))
	}
}

func fastRetries(max int) Settings {
	return Settings{
		FlushInterval:   time.Minute,
		MaxBatchSize:    10,
		MaxRetries:      max,
		RetryBackoffMin: time.Millisecond,
		RetryBackoffMax: 5 * time.Millisecond,
	}
}

func flush(t *testing.T, d *Dispatcher) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.Flush(ctx)
}

func TestIntervalFlushSendsPartialBatch(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	h := newHarness(t, tr, Settings{FlushInterval: 100 * time.Millisecond, MaxBatchSize: 2})
	h.enqueue(t, 1)
	h.start(t)

	time.Sleep(150 * time.Millisecond)
	require.True(t, tr.WaitForCalls(1, time.Second))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, tr.Calls())
	assert.Len(t, tr.Records(t, "span"), 1)
}

func TestFullBatchSendsBeforeInterval(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	h := newHarness(t, tr, Settings{FlushInterval: time.Minute, MaxBatchSize: 2})
	h.start(t)
	h.enqueue(t, 2)

	require.True(t, tr.WaitForCalls(1, 2*time.Second))
	assert.Len(t, tr.Records(t, "span"), 2)
}

func TestTransientFailuresAreRetried(t *testing.T) {
	transient := transport.NewTransient(503, nil)
	tr := testutil.NewRecordingTransport(transient, transient, transient)
	h := newHarness(t, tr, fastRetries(5))
	h.start(t)
	h.enqueue(t, 1)

	require.NoError(t, flush(t, h.d))

	assert.Equal(t, 4, tr.Calls())
	assert.Len(t, tr.Payloads(), 1)
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(3), snap.SendRetries)
	assert.Equal(t, uint64(1), snap.BatchesSent)
	assert.Equal(t, uint64(1), snap.EventsSent)
	assert.Equal(t, uint64(0), snap.BatchesDropped)
}

func TestFatalFailureIsNotRetried(t *testing.T) {
	tr := testutil.NewRecordingTransport(transport.NewFatal(400, errors.New("bad request")))
	h := newHarness(t, tr, fastRetries(5))
	h.start(t)
	h.enqueue(t, 2)

	err := flush(t, h.d)
	require.Error(t, err)
	assert.True(t, transport.IsFatal(err))

	assert.Equal(t, 1, tr.Calls())
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.BatchesDropped)
	assert.Equal(t, uint64(2), snap.EventsDropped)
	assert.Equal(t, uint64(0), snap.SendRetries)
}

func TestRetriesExhaustedDropsBatch(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = transport.NewTransient(0, errors.New("connection refused"))
	}
	tr := testutil.NewRecordingTransport(errs...)
	h := newHarness(t, tr, fastRetries(2))
	h.start(t)
	h.enqueue(t, 1)

	require.Error(t, flush(t, h.d))

	assert.Equal(t, 3, tr.Calls())
	assert.Empty(t, tr.Payloads())
	snap := h.metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.SendRetries)
	assert.Equal(t, uint64(1), snap.BatchesDropped)

	// The next batch is unaffected
	h.enqueue(t, 1)
	require.Error(t, flush(t, h.d))
	h.enqueue(t, 1)
	require.Error(t, flush(t, h.d))
	h.enqueue(t, 1)
	require.NoError(t, flush(t, h.d))
	assert.Len(t, tr.Payloads(), 1)
}

func TestFlushDrainsInBatches(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	s := fastRetries(0)
	s.MaxBatchSize = 2
	h := newHarness(t, tr, s)
	h.start(t)

	// Enqueued before the loop can pick them up one batch at a time
	h.enqueue(t, 5)
	require.NoError(t, flush(t, h.d))

	assert.Len(t, tr.Records(t, "span"), 5)
	assert.Equal(t, 0, h.queue.Len())
	for _, p := range tr.Payloads() {
		assert.LessOrEqual(t, p.Events, 2)
	}
}

func TestFlushWithNothingQueued(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	h := newHarness(t, tr, fastRetries(0))
	h.start(t)

	require.NoError(t, flush(t, h.d))
	assert.Equal(t, 0, tr.Calls())
}

func TestEmptyPayloadIsNotSent(t *testing.T) {
	enc, err := encoding.New(config.ProtocolOTLP, config.CompressionNone)
	require.NoError(t, err)

	tr := testutil.NewRecordingTransport()
	h := newHarnessWithEncoder(t, tr, enc, fastRetries(0))
	h.start(t)
	require.True(t, h.queue.Enqueue(model.MetricSetEvent(model.NewMetricSet(time.Now()))))

	require.NoError(t, flush(t, h.d))
	assert.Equal(t, 0, tr.Calls())
}

type failingEncoder struct{}

func (failingEncoder) Encode(*model.Metadata, []model.Event) (*transport.Payload, error) {
	return nil, errors.New("encode failed")
}

func TestEncodeErrorDropsBatch(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	h := newHarnessWithEncoder(t, tr, failingEncoder{}, fastRetries(3))
	h.start(t)
	h.enqueue(t, 1)

	require.Error(t, flush(t, h.d))
	assert.Equal(t, 0, tr.Calls())
	assert.Equal(t, uint64(1), h.metrics.Snapshot().BatchesDropped)
}

func TestCloseDrainsQueue(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	h := newHarness(t, tr, fastRetries(0))
	h.start(t)
	h.enqueue(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.d.Close(ctx))

	assert.Len(t, tr.Records(t, "span"), 3)
	assert.ErrorIs(t, h.d.Flush(context.Background()), ErrClosed)
}

func TestCloseIsBoundedByContext(t *testing.T) {
	tr := testutil.NewRecordingTransport()
	tr.SetDelay(10 * time.Second)
	h := newHarness(t, tr, fastRetries(0))
	h.start(t)
	h.enqueue(t, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Eventually(t, func() bool {
		return h.metrics.Snapshot().EventsDropped == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, tr.Payloads())
}

func TestCloseRightAfterGoDrains(t *testing.T) {
	for i := 0; i < 10; i++ {
		tr := testutil.NewRecordingTransport()
		h := newHarness(t, tr, fastRetries(0))
		h.enqueue(t, 3)

		var g errgroup.Group
		require.NoError(t, h.d.Go(context.Background(), &g))
		assert.Error(t, h.d.Go(context.Background(), &g))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, h.d.Close(ctx))
		cancel()
		require.NoError(t, g.Wait())

		assert.Len(t, tr.Records(t, "span"), 3)
		assert.Zero(t, h.metrics.Snapshot().EventsDropped)
	}
}

func TestFlushReportsFailureOfWokenBatch(t *testing.T) {
	tr := testutil.NewRecordingTransport(transport.NewFatal(422, errors.New("invalid event")))
	h := newHarness(t, tr, fastRetries(0))
	h.start(t)
	// Let the loop block in DequeueBatch before anything is queued
	time.Sleep(20 * time.Millisecond)
	h.enqueue(t, 1)

	err := flush(t, h.d)
	require.Error(t, err)
	assert.Equal(t, 422, transport.StatusCode(err))
	assert.Equal(t, 1, tr.Calls())
}

func TestCloseWithoutRun(t *testing.T) {
	h := newHarness(t, testutil.NewRecordingTransport(), fastRetries(0))
	assert.NoError(t, h.d.Close(context.Background()))
	assert.ErrorIs(t, h.d.Flush(context.Background()), ErrClosed)
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, testutil.NewRecordingTransport(), fastRetries(0))
	h.start(t)
	assert.Error(t, h.d.Run(context.Background()))
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.Default()
	s := SettingsFrom(cfg)
	assert.Equal(t, cfg.Queue.FlushInterval, s.FlushInterval)
	assert.Equal(t, cfg.Queue.MaxBatchSize, s.MaxBatchSize)
	assert.Equal(t, cfg.Transport.MaxRetries, s.MaxRetries)

	n := Settings{MaxRetries: -1, RetryBackoffMin: time.Second, RetryBackoffMax: time.Millisecond}.normalized()
	assert.Equal(t, 0, n.MaxRetries)
	assert.Equal(t, time.Second, n.RetryBackoffMax)
	assert.Equal(t, 10, n.MaxBatchSize)
}
