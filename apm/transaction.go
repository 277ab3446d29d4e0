package apm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/model"
)

// TransactionOptions control how a transaction starts.
type TransactionOptions struct {
	// TraceContext continues a remote trace when valid: the transaction
	// joins its trace, records its span as parent and inherits its sampling
	// decision.
	TraceContext TraceContext
	// Start overrides the start time. Zero means now.
	Start time.Time
}

// Transaction is the root segment of a unit of work, such as one request.
// A nil or noop Transaction is safe to use; every method does nothing.
type Transaction struct {
	segment

	noop       bool
	typ        string
	parentID   SpanID
	sampled    bool
	sampleRate float64
	traceState TraceState
	spans      spanLimit

	// Guarded by segment.mu
	result  string
	context model.Context
}

// StartTransaction starts a transaction and makes it current in the
// returned context.
func (t *Tracer) StartTransaction(ctx context.Context, name, transactionType string) (*Transaction, context.Context) {
	return t.StartTransactionOptions(ctx, name, transactionType, TransactionOptions{})
}

// StartTransactionOptions is StartTransaction with explicit options. A closed
// or non-recording tracer returns a noop transaction and ctx unchanged.
func (t *Tracer) StartTransactionOptions(ctx context.Context, name, transactionType string, opts TransactionOptions) (tx *Transaction, outCtx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t == nil || t.closed.Load() {
		return noopTransaction(t), ctx
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Recovered panic starting transaction", zap.Any("panic", r))
			tx, outCtx = noopTransaction(t), ctx
		}
	}()

	cfg := t.config()
	if !cfg.Tracing.Recording {
		return noopTransaction(t), ctx
	}
	if transactionType == "" {
		transactionType = "custom"
	}

	tx = &Transaction{typ: transactionType}
	tx.init(t, name, opts.Start)
	tx.id = t.ids.NewSpanID()
	tx.spans.max = cfg.Tracing.TransactionMaxSpans

	if tc := opts.TraceContext; tc.Valid() {
		tx.traceID = tc.Trace
		tx.parentID = tc.Span
		tx.sampled = tc.Options.Recorded()
		tx.traceState = tc.State
		tx.sampleRate = 1
		if rate, ok := tc.State.SampleRate(); ok {
			tx.sampleRate = rate
		}
	} else {
		rate := roundSampleRate(cfg.Tracing.TransactionSampleRate)
		tx.traceID = t.ids.NewTraceID()
		tx.sampled = DecideSampling(tx.traceID, rate)
		tx.sampleRate = rate
		tx.traceState = NewTraceState(rate, "")
	}
	if !tx.sampled {
		tx.sampleRate = 0
	}

	outCtx, tx.flow = t.store.push(ctx, tx)
	return tx, outCtx
}

func noopTransaction(t *Tracer) *Transaction {
	return &Transaction{noop: true, segment: segment{tracer: t}}
}

func (tx *Transaction) inactive() bool {
	return tx == nil || tx.noop
}

// ID returns the transaction id.
func (tx *Transaction) ID() SpanID {
	if tx.inactive() {
		return SpanID{}
	}
	return tx.id
}

// TraceID returns the id of the trace the transaction belongs to.
func (tx *Transaction) TraceID() TraceID {
	if tx.inactive() {
		return TraceID{}
	}
	return tx.traceID
}

// Sampled reports whether the transaction and its spans are recorded.
func (tx *Transaction) Sampled() bool {
	return !tx.inactive() && tx.sampled
}

// Noop reports whether the transaction records nothing at all.
func (tx *Transaction) Noop() bool {
	return tx.inactive()
}

// Name returns the current name.
func (tx *Transaction) Name() string {
	if tx.inactive() {
		return ""
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.name
}

// Type returns the transaction type.
func (tx *Transaction) Type() string {
	if tx.inactive() {
		return ""
	}
	return tx.typ
}

// SpanCount returns how many child spans were started and dropped so far.
func (tx *Transaction) SpanCount() model.SpanCount {
	if tx.inactive() {
		return model.SpanCount{}
	}
	return model.SpanCount{Started: tx.spans.Started(), Dropped: tx.spans.Dropped()}
}

// SetName renames the transaction, for example once a route is resolved.
func (tx *Transaction) SetName(name string) {
	if !tx.inactive() {
		tx.setName(name)
	}
}

// SetResult sets the result, such as "HTTP 2xx".
func (tx *Transaction) SetResult(result string) {
	if tx.inactive() {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended {
		tx.result = result
	}
}

// SetRequest records the request that started the transaction.
func (tx *Transaction) SetRequest(req model.Request) {
	if tx.inactive() {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended {
		tx.context.Request = &req
	}
}

// SetResponse records the response sent.
func (tx *Transaction) SetResponse(resp model.Response) {
	if tx.inactive() {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended {
		tx.context.Response = &resp
	}
}

// SetUser records the end user.
func (tx *Transaction) SetUser(user model.User) {
	if tx.inactive() {
		return
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.ended {
		tx.context.User = &user
	}
}

// SetOutcome implements Segment.
func (tx *Transaction) SetOutcome(outcome model.Outcome) {
	if !tx.inactive() {
		tx.setOutcome(outcome)
	}
}

// SetLabel implements Segment.
func (tx *Transaction) SetLabel(key, value string) {
	if !tx.inactive() {
		tx.setLabel(key, value)
	}
}

// Ended implements Segment. A noop transaction reports false.
func (tx *Transaction) Ended() bool {
	return !tx.inactive() && tx.isEnded()
}

// TraceContext implements Segment.
func (tx *Transaction) TraceContext() TraceContext {
	if tx.inactive() {
		return TraceContext{}
	}
	return TraceContext{
		Trace:   tx.traceID,
		Span:    tx.id,
		Options: TraceOptions(0).WithRecorded(tx.sampled),
		State:   tx.traceState,
	}
}

// StartSpan implements Segment.
func (tx *Transaction) StartSpan(ctx context.Context, name, spanType string) (*Span, context.Context) {
	return tx.StartSpanOptions(ctx, name, spanType, SpanOptions{})
}

// StartSpanOptions implements Segment. Unsampled transactions and
// transactions over their span limit return the noop span.
func (tx *Transaction) StartSpanOptions(ctx context.Context, name, spanType string, opts SpanOptions) (*Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx.inactive() || !tx.sampled {
		return noopSpan, ctx
	}
	return tx.tracer.startSpan(ctx, spanParent{
		segment:     tx,
		transaction: tx,
		limit:       &tx.spans,
		traceID:     tx.traceID,
		txID:        tx.id,
		parentID:    tx.id,
	}, name, spanType, opts)
}

// CaptureException implements Segment.
func (tx *Transaction) CaptureException(err error) {
	if tx.inactive() || err == nil {
		return
	}
	tx.markFailed()
	tx.tracer.captureException(tx.errorParent(), err)
}

// CaptureErrorLog implements Segment.
func (tx *Transaction) CaptureErrorLog(message string) {
	if tx.inactive() {
		return
	}
	tx.markFailed()
	tx.tracer.captureLog(tx.errorParent(), message)
}

func (tx *Transaction) errorParent() errorParent {
	return errorParent{
		traceID:     tx.traceID,
		txID:        tx.id,
		parentID:    tx.id,
		transaction: tx,
	}
}

// End implements Segment. Sampled transactions are enqueued as a record;
// unsampled ones are discarded.
func (tx *Transaction) End() {
	if tx.inactive() {
		return
	}
	defer tx.tracer.recoverPanic("transaction end")

	if !tx.finish(tx, "transaction") || !tx.sampled {
		return
	}

	name, duration, outcome, labels := tx.snapshot()
	tx.mu.Lock()
	result := tx.result
	ctx := tx.context
	ctx.Labels = labels
	ctx = ctx.Clone()
	tx.mu.Unlock()

	tx.tracer.enqueue(model.TransactionEvent(&model.Transaction{
		ID:         tx.id,
		TraceID:    tx.traceID,
		ParentID:   tx.parentID,
		Name:       name,
		Type:       tx.typ,
		Result:     result,
		Timestamp:  tx.start,
		Duration:   duration,
		Outcome:    outcome,
		Sampled:    true,
		SampleRate: tx.sampleRate,
		SpanCount:  tx.SpanCount(),
		Context:    ctx,
	}))
}

var _ Segment = (*Transaction)(nil)
