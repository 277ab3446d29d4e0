package metrics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/model"
)

type collector struct {
	mu   sync.Mutex
	sets []*model.MetricSet
}

func (c *collector) sink(ev model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, ev.MetricSet)
	return true
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

func constant(name string, samples map[string]float64) Provider {
	return ProviderFunc{ProviderName: name, Fn: func(_ context.Context, ms *model.MetricSet) error {
		for k, v := range samples {
			ms.Add(k, v)
		}
		return nil
	}}
}

func failing(name string, calls *atomic.Int32) Provider {
	return ProviderFunc{ProviderName: name, Fn: func(context.Context, *model.MetricSet) error {
		calls.Add(1)
		return errors.New("unavailable")
	}}
}

func TestSampleMergesProviders(t *testing.T) {
	s := New(Options{
		Providers: []Provider{
			constant("a", map[string]float64{"a.one": 1}),
			constant("b", map[string]float64{"b.two": 2}),
		},
	})

	ms := s.Sample(context.Background())
	require.NotNil(t, ms)
	assert.Equal(t, map[string]float64{"a.one": 1, "b.two": 2}, ms.Samples)
}

func TestFailingProviderIsDisabledAfterThreshold(t *testing.T) {
	var calls atomic.Int32
	m := monitoring.NewMetrics()
	s := New(Options{
		Providers: []Provider{
			failing("broken", &calls),
			constant("ok", map[string]float64{"ok": 1}),
		},
		Settings: func() Settings { return Settings{FailureThreshold: 3} },
		Metrics:  m,
	})

	for i := 0; i < 5; i++ {
		ms := s.Sample(context.Background())
		require.NotNil(t, ms, "healthy provider keeps reporting")
		assert.Equal(t, 1.0, ms.Samples["ok"])
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"broken"}, s.Disabled())
	assert.Equal(t, uint64(1), m.Snapshot().ProvidersDisabled)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	var n atomic.Int32
	flaky := ProviderFunc{ProviderName: "flaky", Fn: func(_ context.Context, ms *model.MetricSet) error {
		// Fails twice out of every three calls
		if n.Add(1)%3 != 0 {
			return errors.New("flake")
		}
		ms.Add("flaky", 1)
		return nil
	}}
	s := New(Options{
		Providers: []Provider{flaky},
		Settings:  func() Settings { return Settings{FailureThreshold: 3} },
	})

	for i := 0; i < 9; i++ {
		s.Sample(context.Background())
	}
	assert.Empty(t, s.Disabled())
}

func TestPanickingProviderCountsAsFailure(t *testing.T) {
	s := New(Options{
		Providers: []Provider{ProviderFunc{ProviderName: "panics", Fn: func(context.Context, *model.MetricSet) error {
			panic("boom")
		}}},
		Settings: func() Settings { return Settings{FailureThreshold: 1} },
	})

	assert.Nil(t, s.Sample(context.Background()))
	assert.Equal(t, []string{"panics"}, s.Disabled())
}

func TestFailedProviderSamplesAreDiscarded(t *testing.T) {
	tests := []struct {
		name string
		fail func()
	}{
		{"error", func() {}},
		{"panic", func() { panic("half done") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partial := ProviderFunc{ProviderName: "partial", Fn: func(_ context.Context, ms *model.MetricSet) error {
				ms.Add("partial.first", 1)
				ms.Labels = map[string]string{"partial": "yes"}
				tt.fail()
				return errors.New("second read failed")
			}}
			s := New(Options{
				Providers: []Provider{partial, constant("ok", map[string]float64{"ok": 1})},
				Settings:  func() Settings { return Settings{FailureThreshold: 10} },
			})

			ms := s.Sample(context.Background())
			require.NotNil(t, ms)
			assert.Equal(t, map[string]float64{"ok": 1}, ms.Samples)
			assert.Empty(t, ms.Labels)
		})
	}
}

func TestDisabledMetricsAreFiltered(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     []string
	}{
		{"no patterns", nil, []string{"golang.heap.gc.count", "golang.goroutines", "system.memory.total"}},
		{"prefix wildcard", []string{"golang.heap.*"}, []string{"golang.goroutines", "system.memory.total"}},
		{"case insensitive", []string{"SYSTEM.MEMORY.TOTAL"}, []string{"golang.heap.gc.count", "golang.goroutines"}},
		{"everything", []string{"*"}, nil},
		{"bad pattern", []string{"[abc"}, []string{"golang.heap.gc.count", "golang.goroutines", "system.memory.total"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{
				Providers: []Provider{constant("c", map[string]float64{
					"golang.heap.gc.count": 1,
					"golang.goroutines":    2,
					"system.memory.total":  3,
				})},
				Settings: func() Settings { return Settings{Disabled: tt.patterns} },
			})

			ms := s.Sample(context.Background())
			if tt.want == nil {
				assert.Nil(t, ms)
				return
			}
			require.NotNil(t, ms)
			var got []string
			for name := range ms.Samples {
				got = append(got, name)
			}
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestRunSamplesOnInterval(t *testing.T) {
	c := &collector{}
	s := New(Options{
		Providers: []Provider{constant("c", map[string]float64{"x": 1})},
		Sink:      c.sink,
		Settings:  func() Settings { return Settings{Interval: 20 * time.Millisecond} },
	})
	go func() { _ = s.Run(context.Background()) }()
	defer func() { _ = s.Close(context.Background()) }()

	assert.Eventually(t, func() bool { return c.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestZeroIntervalDisablesUntilReconfigured(t *testing.T) {
	var interval atomic.Int64
	c := &collector{}
	s := New(Options{
		Providers: []Provider{constant("c", map[string]float64{"x": 1})},
		Sink:      c.sink,
		Settings:  func() Settings { return Settings{Interval: time.Duration(interval.Load())} },
	})
	go func() { _ = s.Run(context.Background()) }()
	defer func() { _ = s.Close(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())

	interval.Store(int64(10 * time.Millisecond))
	s.Reconfigure()
	assert.Eventually(t, func() bool { return c.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestCloseStopsRun(t *testing.T) {
	s := New(Options{Settings: func() Settings { return Settings{Interval: time.Hour} }})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background()) }()
	require.Eventually(t, s.started.Load, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
	assert.NoError(t, <-errCh)
	assert.NoError(t, New(Options{}).Close(ctx))
}

func TestRuntimeProvider(t *testing.T) {
	p := NewRuntimeProvider()
	ms := model.NewMetricSet(time.Now())
	require.NoError(t, p.Gather(context.Background(), ms))

	assert.Greater(t, ms.Samples["golang.goroutines"], 0.0)
	assert.Greater(t, ms.Samples["golang.heap.system.total"], 0.0)
	assert.Contains(t, ms.Samples, "golang.heap.gc.cpu_fraction")
}

func TestPrometheusProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_events_total"}, []string{"kind"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue_length"})
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_send_seconds"})
	reg.MustRegister(counter, gauge, hist)

	counter.WithLabelValues("span").Add(3)
	counter.WithLabelValues("error").Add(2)
	gauge.Set(7)
	hist.Observe(0.5)
	hist.Observe(1.5)

	ms := model.NewMetricSet(time.Now())
	require.NoError(t, NewPrometheusProvider(reg).Gather(context.Background(), ms))

	assert.Equal(t, 5.0, ms.Samples["test_events_total"])
	assert.Equal(t, 7.0, ms.Samples["test_queue_length"])
	assert.Equal(t, 2.0, ms.Samples["test_send_seconds_count"])
	assert.Equal(t, 2.0, ms.Samples["test_send_seconds_sum"])
}

func TestProcfsProvidersFailWithoutProc(t *testing.T) {
	process := &ProcessProvider{mountPoint: "/nonexistent/proc", now: time.Now}
	assert.Error(t, process.Gather(context.Background(), model.NewMetricSet(time.Now())))

	system := &SystemProvider{mountPoint: "/nonexistent/proc"}
	assert.Error(t, system.Gather(context.Background(), model.NewMetricSet(time.Now())))
}

func TestDefaultProviders(t *testing.T) {
	assert.Len(t, DefaultProviders(nil), 3)
	providers := DefaultProviders(prometheus.NewRegistry())
	require.Len(t, providers, 4)
	assert.Equal(t, "prometheus", providers[3].Name())
}
