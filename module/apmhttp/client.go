package apmhttp

import (
	"net"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
)

// WrapClient returns a copy of c whose transport records outgoing requests
// as exit spans. A nil c wraps http.DefaultClient.
func WrapClient(c *http.Client) *http.Client {
	if c == nil {
		c = http.DefaultClient
	}
	copied := *c
	copied.Transport = WrapRoundTripper(copied.Transport)
	return &copied
}

// WrapRoundTripper returns a RoundTripper that records each request made
// within a traced context as an exit span and propagates its trace context.
// Requests outside a trace pass through unchanged.
func WrapRoundTripper(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &roundTripper{next: rt}
}

type roundTripper struct {
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	parent := apm.SegmentFromContext(ctx)
	if parent == nil {
		return rt.next.RoundTrip(req)
	}

	span, _ := parent.StartSpanOptions(ctx, req.Method+" "+req.URL.Host, "external.http", apm.SpanOptions{ExitSpan: true})
	defer span.End()

	// A dropped span still carries the trace downstream under its parent
	tc := span.TraceContext()
	if span.Dropped() {
		tc = parent.TraceContext()
	}
	req = req.Clone(ctx)
	SetHeaders(req.Header, tc)

	span.SetDestination(destination(req))
	httpCtx := model.HTTPSpan{URL: req.URL.String(), Method: req.Method}

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		span.CaptureException(err)
		span.SetHTTP(httpCtx)
		return nil, err
	}
	httpCtx.StatusCode = resp.StatusCode
	span.SetHTTP(httpCtx)
	span.SetOutcome(ClientOutcome(resp.StatusCode))
	return resp, nil
}

func destination(req *http.Request) (string, int) {
	host, portStr, err := net.SplitHostPort(req.URL.Host)
	if err != nil {
		host = req.URL.Host
		switch req.URL.Scheme {
		case "https":
			return host, 443
		default:
			return host, 80
		}
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
