package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/apmagent/model"
)

// maxErrorBody bounds how much of a collector error response is kept.
const maxErrorBody = 1024

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	ServerURL   string
	SecretToken string
	APIKey      string
	Timeout     time.Duration
	UserAgent   string
	// RequestsPerSecond limits send rate; zero means unlimited.
	RequestsPerSecond float64
	// Breaker overrides the default circuit breaker settings.
	Breaker *resilience.Settings
	Logger  *logging.Logger
}

// HTTPTransport sends payloads over HTTP with rate limiting and a circuit
// breaker.
type HTTPTransport struct {
	base    *url.URL
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *logging.Logger
	mu      sync.RWMutex
}

// NewHTTPTransport creates a production-ready collector client.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	base, err := url.Parse(opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", opts.ServerURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = fmt.Sprintf("apm-agent-%s/%s", model.AgentName, model.AgentVersion)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	// Pooled transport from the retryable client. Retries happen in the
	// dispatcher, so neither client retries on its own.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent).
		SetTransport(retryClient.HTTPClient.Transport)

	switch {
	case opts.APIKey != "":
		restyClient.SetAuthScheme("ApiKey").SetAuthToken(opts.APIKey)
	case opts.SecretToken != "":
		restyClient.SetAuthToken(opts.SecretToken)
	}

	logger := opts.Logger
	settings := resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	if opts.Breaker != nil {
		settings = *opts.Breaker
	}
	// Fatal rejections mean the collector is up; only transient failures count.
	settings.IsSuccessful = func(err error) bool {
		return err == nil || IsFatal(err)
	}
	userHook := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Collector circuit breaker state change",
			zap.String("breaker", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &HTTPTransport{
		base:    base,
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("apm-collector", settings),
		logger:  logger,
	}, nil
}

// Send posts p to the collector. Every failure is returned as *Error.
func (t *HTTPTransport) Send(ctx context.Context, p *Payload) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return NewTransient(0, fmt.Errorf("rate limit error: %w", err))
	}

	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		return t.post(ctx, p)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return NewTransient(0, fmt.Errorf("collector unavailable: %w", err))
	}
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			return NewTransient(0, err)
		}
	}
	return err
}

func (t *HTTPTransport) post(ctx context.Context, p *Payload) error {
	t.mu.RLock()
	req := t.resty.R().SetContext(ctx)
	t.mu.RUnlock()

	if p.ContentType != "" {
		req.SetHeader("Content-Type", p.ContentType)
	}
	if p.ContentEncoding != "" {
		req.SetHeader("Content-Encoding", p.ContentEncoding)
	}

	if p.Body != nil {
		req.SetBody(p.Body)
	}
	resp, err := req.Post(t.endpoint(p.Path))
	return classify(ctx, resp, err)
}

// classify turns a resty outcome into nil or a classified *Error using the
// retryablehttp retry policy.
func classify(ctx context.Context, resp *resty.Response, err error) error {
	var raw *http.Response
	if resp != nil {
		raw = resp.RawResponse
	}
	if err == nil && raw != nil && raw.StatusCode < 300 {
		return nil
	}

	// resty returns no response at all when the request could not be built,
	// which no retry can fix.
	if resp == nil && err != nil && ctx.Err() == nil {
		return NewFatal(0, fmt.Errorf("build request: %w", err))
	}

	status := 0
	if raw != nil {
		status = raw.StatusCode
	} else if err == nil {
		return NewTransient(0, errors.New("no response from collector"))
	}

	retry, policyErr := retryablehttp.DefaultRetryPolicy(ctx, raw, err)
	if ctx.Err() != nil {
		return NewTransient(status, ctx.Err())
	}
	if err == nil {
		err = policyErr
	}
	if err == nil {
		err = fmt.Errorf("unexpected status %d", status)
	}

	e := NewTransient(status, err)
	if !retry {
		e.Kind = Fatal
	}
	if resp != nil && status >= 300 {
		e.Message = truncate(strings.TrimSpace(resp.String()), maxErrorBody)
	}
	return e
}

func (t *HTTPTransport) endpoint(path string) string {
	u := *t.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	return u.String()
}

// SetHeader adds a default header sent with every payload
func (t *HTTPTransport) SetHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resty.SetHeader(key, value)
}

// BreakerState returns the current circuit breaker state
func (t *HTTPTransport) BreakerState() resilience.State {
	return t.breaker.State()
}

// BreakerCounts returns circuit breaker statistics
func (t *HTTPTransport) BreakerCounts() resilience.Counts {
	return t.breaker.Counts()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
