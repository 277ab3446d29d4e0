package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/model"
)

func spanEvent(name string) model.Event {
	return model.SpanEvent(&model.Span{Name: name})
}

func names(batch []model.Event) []string {
	out := make([]string, len(batch))
	for i, ev := range batch {
		out[i] = ev.Span.Name
	}
	return out
}

func TestQueueFIFO(t *testing.T) {
	q := New(10, DropNewest)

	for _, n := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(spanEvent(n)))
	}

	batch := q.DequeueBatch(context.Background(), 10, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, names(batch))
	assert.Equal(t, 0, q.Len())
}

func TestQueueDropNewestWhenFull(t *testing.T) {
	m := monitoring.NewMetrics()
	q := New(2, DropNewest, WithMetrics(m))

	assert.True(t, q.Enqueue(spanEvent("a")))
	assert.True(t, q.Enqueue(spanEvent("b")))

	done := make(chan bool)
	go func() { done <- q.Enqueue(spanEvent("c")) }()

	select {
	case accepted := <-done:
		assert.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Dropped[model.KindSpan])
	assert.Equal(t, uint64(1), stats.TotalDropped())
	assert.Equal(t, uint64(2), stats.Enqueued)
	assert.Equal(t, uint64(1), m.Snapshot().EventsDropped)

	assert.Equal(t, []string{"a", "b"}, names(q.TryDequeue(10)))
}

func TestQueueDropOldest(t *testing.T) {
	q := New(2, DropOldest)

	q.Enqueue(spanEvent("a"))
	q.Enqueue(spanEvent("b"))
	assert.True(t, q.Enqueue(spanEvent("c")))

	assert.Equal(t, uint64(1), q.Stats().Dropped[model.KindSpan])
	assert.Equal(t, []string{"b", "c"}, names(q.TryDequeue(10)))
}

func TestQueueDropCountsPerKind(t *testing.T) {
	q := New(1, DropNewest)

	q.Enqueue(model.TransactionEvent(&model.Transaction{}))
	q.Enqueue(model.ErrorEvent(&model.Error{}))
	q.Enqueue(model.ErrorEvent(&model.Error{}))
	q.Enqueue(model.MetricSetEvent(model.NewMetricSet(time.Now())))

	stats := q.Stats()
	assert.Equal(t, uint64(0), stats.Dropped[model.KindTransaction])
	assert.Equal(t, uint64(2), stats.Dropped[model.KindError])
	assert.Equal(t, uint64(1), stats.Dropped[model.KindMetricSet])
}

func TestDequeueBatchReturnsAtMaxItems(t *testing.T) {
	q := New(10, DropNewest)
	for _, n := range []string{"a", "b", "c"} {
		q.Enqueue(spanEvent(n))
	}

	start := time.Now()
	batch := q.DequeueBatch(context.Background(), 2, time.Minute)

	assert.Equal(t, []string{"a", "b"}, names(batch))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, q.Len())
}

func TestDequeueBatchTimeoutReturnsPartialBatch(t *testing.T) {
	q := New(10, DropNewest)
	q.Enqueue(spanEvent("a"))

	start := time.Now()
	batch := q.DequeueBatch(context.Background(), 5, 50*time.Millisecond)

	assert.Equal(t, []string{"a"}, names(batch))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestDequeueBatchTimeoutEmpty(t *testing.T) {
	q := New(10, DropNewest)

	batch := q.DequeueBatch(context.Background(), 5, 20*time.Millisecond)
	assert.Empty(t, batch)
}

func TestDequeueBatchWakesEarly(t *testing.T) {
	q := New(10, DropNewest)
	q.Enqueue(spanEvent("a"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Enqueue(spanEvent("b"))
		q.Wake()
	}()

	start := time.Now()
	batch := q.DequeueBatch(context.Background(), 10, time.Minute)

	assert.Equal(t, []string{"a", "b"}, names(batch))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDequeueBatchContextCancel(t *testing.T) {
	q := New(10, DropNewest)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	batch := q.DequeueBatch(ctx, 10, time.Minute)
	assert.Empty(t, batch)
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New(1000, DropNewest)

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(spanEvent("x"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, q.Len())
	assert.Equal(t, uint64(1000), q.Stats().Enqueued)
	assert.Equal(t, uint64(0), q.Stats().TotalDropped())
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, DropOldest, ParsePolicy("oldest"))
	assert.Equal(t, DropOldest, ParsePolicy("OLDEST"))
	assert.Equal(t, DropNewest, ParsePolicy("newest"))
	assert.Equal(t, DropNewest, ParsePolicy("bogus"))
	assert.Equal(t, "oldest", DropOldest.String())

	q := New(1, DropNewest)
	q.SetPolicy(DropOldest)
	assert.Equal(t, DropOldest, q.Policy())
}

func BenchmarkEnqueue(b *testing.B) {
	q := New(b.N+1, DropNewest)
	ev := spanEvent("x")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Enqueue(ev)
	}
}
