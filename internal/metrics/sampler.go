package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/model"
)

// Settings are the live sampling parameters.
type Settings struct {
	// Interval between samples. Zero pauses sampling.
	Interval time.Duration
	// FailureThreshold is the number of consecutive failures after which a
	// provider is disabled. Zero or less never disables.
	FailureThreshold int
	// Disabled holds wildcard patterns of metric names to drop.
	Disabled []string
}

// SettingsFrom extracts the sampling parameters from a configuration snapshot.
func SettingsFrom(cfg *config.Snapshot) Settings {
	return Settings{
		Interval:         cfg.Metrics.Interval,
		FailureThreshold: cfg.Metrics.ProviderFailureThreshold,
		Disabled:         cfg.Metrics.Disable,
	}
}

// Options wires a sampler.
type Options struct {
	Providers []Provider
	// Sink receives each non-empty metric set. It must not block.
	Sink     func(model.Event) bool
	Settings func() Settings
	Metrics  *monitoring.Metrics
	Logger   *logging.Logger
	Now      func() time.Time
}

type providerState struct {
	provider Provider
	failures int
	disabled bool
}

// Sampler periodically gathers metric sets from its providers.
type Sampler struct {
	mu        sync.Mutex
	providers []*providerState

	sink     func(model.Event) bool
	settings func() Settings
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	now      func() time.Time

	reconfigure chan struct{}
	stopping    chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	started     atomic.Bool
}

// New creates a sampler. Run must be called to start it.
func New(opts Options) *Sampler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	settings := opts.Settings
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	sink := opts.Sink
	if sink == nil {
		sink = func(model.Event) bool { return false }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	states := make([]*providerState, 0, len(opts.Providers))
	for _, p := range opts.Providers {
		states = append(states, &providerState{provider: p})
	}

	return &Sampler{
		providers:   states,
		sink:        sink,
		settings:    settings,
		metrics:     opts.Metrics,
		logger:      logger.Named("metrics"),
		now:         now,
		reconfigure: make(chan struct{}, 1),
		stopping:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run samples on every interval tick until Close is called or ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("sampler already running")
	}
	defer close(s.done)

	for {
		st := s.settings()

		var tick <-chan time.Time
		var timer *time.Timer
		if st.Interval > 0 {
			timer = time.NewTimer(st.Interval)
			tick = timer.C
		}

		select {
		case <-tick:
			s.Collect(ctx)
		case <-s.reconfigure:
		case <-s.stopping:
			stopTimer(timer)
			return nil
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		}
		stopTimer(timer)
	}
}

// Reconfigure makes the loop pick up a new interval immediately.
func (s *Sampler) Reconfigure() {
	select {
	case s.reconfigure <- struct{}{}:
	default:
	}
}

// Close stops the loop and waits for it to exit or ctx to end.
func (s *Sampler) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect gathers one metric set from the enabled providers and passes it to
// the sink. It reports whether a set was delivered.
func (s *Sampler) Collect(ctx context.Context) bool {
	ms := s.Sample(ctx)
	if ms == nil {
		return false
	}
	return s.sink(model.MetricSetEvent(ms))
}

// Sample gathers one metric set without delivering it. It returns nil when no
// samples remain after filtering.
func (s *Sampler) Sample(ctx context.Context) *model.MetricSet {
	st := s.settings()
	ms := model.NewMetricSet(s.now())

	s.mu.Lock()
	for _, ps := range s.providers {
		if ps.disabled {
			continue
		}
		// Samples from a provider that fails are discarded as a whole.
		scratch := model.NewMetricSet(ms.Timestamp)
		err := s.gather(ctx, ps.provider, scratch)
		if err == nil {
			merge(ms, scratch)
			ps.failures = 0
			continue
		}
		ps.failures++
		s.logger.Debug("Metrics provider failed",
			zap.String("provider", ps.provider.Name()),
			zap.Int("failures", ps.failures),
			zap.Error(err))
		if st.FailureThreshold > 0 && ps.failures >= st.FailureThreshold {
			ps.disabled = true
			s.metrics.RecordProviderDisabled(ps.provider.Name())
			s.logger.Warn("Disabling metrics provider",
				zap.String("provider", ps.provider.Name()),
				zap.Int("failures", ps.failures),
				zap.Error(err))
		}
	}
	s.mu.Unlock()

	filter(ms, st.Disabled)
	if len(ms.Samples) == 0 {
		return nil
	}
	return ms
}

// Disabled returns the names of providers that have been disabled.
func (s *Sampler) Disabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, ps := range s.providers {
		if ps.disabled {
			names = append(names, ps.provider.Name())
		}
	}
	return names
}

// gather isolates a provider so a panic counts as a failure.
func (s *Sampler) gather(ctx context.Context, p Provider, ms *model.MetricSet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return p.Gather(ctx, ms)
}

func merge(dst, src *model.MetricSet) {
	for name, v := range src.Samples {
		dst.Samples[name] = v
	}
	for k, v := range src.Labels {
		if dst.Labels == nil {
			dst.Labels = make(map[string]string, len(src.Labels))
		}
		dst.Labels[k] = v
	}
}

// filter removes samples whose name matches one of patterns, ignoring case.
// Malformed patterns match nothing.
func filter(ms *model.MetricSet, patterns []string) {
	if len(patterns) == 0 {
		return
	}
	for name := range ms.Samples {
		lower := strings.ToLower(name)
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(strings.ToLower(pattern), lower); ok {
				delete(ms.Samples, name)
				break
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
