package apmhttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
)

// ParseTraceContext reads the trace context of an incoming request. It
// prefers traceparent and falls back to the legacy header. The boolean is
// false when neither header holds a valid value.
func ParseTraceContext(h http.Header) (apm.TraceContext, bool) {
	for _, name := range []string{apm.TraceparentHeader, apm.ElasticTraceparentHeader} {
		value := h.Get(name)
		if value == "" {
			continue
		}
		tc, err := apm.ParseTraceparentHeader(value)
		if err != nil {
			continue
		}
		tc.State = apm.TraceState(strings.Join(h.Values(apm.TracestateHeader), ","))
		return tc, true
	}
	return apm.TraceContext{}, false
}

// SetHeaders writes tc into outgoing request headers.
func SetHeaders(h http.Header, tc apm.TraceContext) {
	if !tc.Valid() {
		return
	}
	h.Set(apm.TraceparentHeader, apm.FormatTraceparentHeader(tc))
	if tc.State != "" {
		h.Set(apm.TracestateHeader, tc.State.String())
	} else {
		h.Del(apm.TracestateHeader)
	}
}

// IgnoreURL reports whether path matches one of the wildcard patterns.
// Matching is case insensitive; malformed patterns match nothing.
func IgnoreURL(patterns []string, path string) bool {
	if len(patterns) == 0 {
		return false
	}
	path = strings.ToLower(path)
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(p), path); err == nil && ok {
			return true
		}
	}
	return false
}

// Result formats a status code as a transaction result, such as "HTTP 2xx".
func Result(status int) string {
	switch {
	case status >= 100 && status < 600:
		return "HTTP " + strconv.Itoa(status/100) + "xx"
	default:
		return ""
	}
}

// ServerOutcome classifies a response from the server's point of view.
// Only 5xx responses count as failures.
func ServerOutcome(status int) model.Outcome {
	if status >= 500 {
		return model.OutcomeFailure
	}
	return model.OutcomeSuccess
}

// ClientOutcome classifies a response from the caller's point of view, where
// any 4xx or 5xx response is a failure.
func ClientOutcome(status int) model.Outcome {
	if status >= 400 {
		return model.OutcomeFailure
	}
	return model.OutcomeSuccess
}
