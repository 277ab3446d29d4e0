package apm

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
)

const storeShards = 64

// frame is one entry of a flow's segment stack. Frames are never mutated
// after creation, so a stack can be shared between flows.
type frame struct {
	segment Segment
	parent  *frame
}

// flow identifies one logical flow of execution. It travels by value inside
// a context.Context. base is the stack inherited from the flow it was forked
// from, used until the flow pushes its own segments.
type flow struct {
	id    uint64
	base  *frame
	store *segmentStore
}

// flowIDs is process wide so flows of different tracers never collide.
var flowIDs atomic.Uint64

// flowKey scopes a flow to the store that owns it, so one context can carry
// flows of several tracers. latestFlowKey points at the flow pushed last,
// for lookups that do not know the tracer.
type flowKey struct{ store *segmentStore }

type latestFlowKey struct{}

type storeShard struct {
	mu     sync.Mutex
	stacks map[uint64]*frame
}

// segmentStore tracks the current segment of every active flow. It is
// sharded by flow id so unrelated flows never contend on one lock.
type segmentStore struct {
	shards [storeShards]storeShard
	logger *logging.Logger
}

func newSegmentStore(logger *logging.Logger) *segmentStore {
	s := &segmentStore{logger: logger}
	for i := range s.shards {
		s.shards[i].stacks = make(map[uint64]*frame)
	}
	return s
}

func (s *segmentStore) shard(id uint64) *storeShard {
	return &s.shards[id%storeShards]
}

func flowFromContext(ctx context.Context) *flow {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(latestFlowKey{}).(*flow)
	return f
}

func (s *segmentStore) flowOf(ctx context.Context) *flow {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(flowKey{s}).(*flow)
	return f
}

func withFlow(ctx context.Context, f *flow) context.Context {
	if flowFromContext(ctx) == f {
		return ctx
	}
	if f.store.flowOf(ctx) != f {
		ctx = context.WithValue(ctx, flowKey{f.store}, f)
	}
	return context.WithValue(ctx, latestFlowKey{}, f)
}

// top returns the innermost frame of the flow carried by ctx.
func (s *segmentStore) top(ctx context.Context) *frame {
	if s == nil {
		return nil
	}
	f := s.flowOf(ctx)
	if f == nil {
		return nil
	}
	sh := s.shard(f.id)
	sh.mu.Lock()
	top, ok := sh.stacks[f.id]
	sh.mu.Unlock()
	if !ok {
		return f.base
	}
	return top
}

// current returns the innermost active segment of the flow, or nil.
func (s *segmentStore) current(ctx context.Context) Segment {
	if top := s.top(ctx); top != nil {
		return top.segment
	}
	return nil
}

// currentTransaction returns the transaction at the root of the innermost
// segment's chain.
func (s *segmentStore) currentTransaction(ctx context.Context) *Transaction {
	for fr := s.top(ctx); fr != nil; fr = fr.parent {
		if tx, ok := fr.segment.(*Transaction); ok {
			return tx
		}
	}
	return nil
}

// currentSpan returns the innermost span above the current transaction.
func (s *segmentStore) currentSpan(ctx context.Context) *Span {
	for fr := s.top(ctx); fr != nil; fr = fr.parent {
		switch seg := fr.segment.(type) {
		case *Span:
			return seg
		case *Transaction:
			return nil
		}
	}
	return nil
}

// push makes seg the current segment of the flow carried by ctx, starting a
// new flow when ctx has none. It returns the context to hand to code running
// inside seg and the flow seg was pushed onto.
func (s *segmentStore) push(ctx context.Context, seg Segment) (context.Context, *flow) {
	if ctx == nil {
		ctx = context.Background()
	}
	f := s.flowOf(ctx)
	if f == nil {
		f = &flow{id: flowIDs.Add(1), store: s}
	}
	ctx = withFlow(ctx, f)

	sh := s.shard(f.id)
	sh.mu.Lock()
	parent, ok := sh.stacks[f.id]
	if !ok {
		parent = f.base
	}
	sh.stacks[f.id] = &frame{segment: seg, parent: parent}
	sh.mu.Unlock()
	return ctx, f
}

// pop removes seg from the top of flow f. When seg is not the current
// segment the stack is left untouched and false is returned.
func (s *segmentStore) pop(f *flow, seg Segment) bool {
	if f == nil {
		return false
	}
	sh := s.shard(f.id)
	sh.mu.Lock()
	top, ok := sh.stacks[f.id]
	if !ok {
		top = f.base
	}
	if top == nil || top.segment != seg {
		// A transaction owns every frame pushed above it, so ending it
		// releases spans that were left open too.
		if _, ok := seg.(*Transaction); ok {
			if open, fr := findFrame(top, f.base, seg); fr != nil {
				top = fr
				defer s.logger.Warn("Transaction ended with spans still open, releasing them",
					zap.Uint64("flow", f.id),
					zap.Int("open_spans", open))
			}
		}
	}
	if top == nil || top.segment != seg {
		sh.mu.Unlock()
		s.logger.Warn("Segment ended out of order, leaving ambient context unchanged",
			zap.Uint64("flow", f.id))
		return false
	}
	// Segments that ended out of order below seg are released with it.
	next := top.parent
	for next != nil && next != f.base && next.segment.Ended() {
		next = next.parent
	}
	if next == f.base {
		delete(sh.stacks, f.id)
	} else {
		sh.stacks[f.id] = next
	}
	sh.mu.Unlock()
	return true
}

// findFrame walks down from top to the frame holding seg, stopping at base.
// It returns the frame and the number of segments above it that have not
// ended.
func findFrame(top, base *frame, seg Segment) (int, *frame) {
	open := 0
	for fr := top; fr != nil && fr != base; fr = fr.parent {
		if fr.segment == seg {
			return open, fr
		}
		if !fr.segment.Ended() {
			open++
		}
	}
	return 0, nil
}

// fork returns a context for work handed off to another goroutine. The new
// flow starts with the segments current in ctx; later pushes on either flow
// are invisible to the other.
func (s *segmentStore) fork(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	f := &flow{id: flowIDs.Add(1), base: s.top(ctx), store: s}
	return withFlow(ctx, f)
}

// size returns the number of flows with pushed segments.
func (s *segmentStore) size() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.stacks)
		sh.mu.Unlock()
	}
	return n
}
