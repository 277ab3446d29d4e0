package apmhttp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
)

// Wrap returns a handler that records every request to h as a transaction
// of type "request". Requests whose path matches the tracer's
// TransactionIgnoreURLs are passed through untraced.
func Wrap(h http.Handler, tracer *apm.Tracer) http.Handler {
	return &handler{next: h, tracer: tracer}
}

type handler struct {
	next   http.Handler
	tracer *apm.Tracer
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.tracer.Recording() || IgnoreURL(h.tracer.Config().Tracing.TransactionIgnoreURLs, r.URL.Path) {
		h.next.ServeHTTP(w, r)
		return
	}

	tx, ctx := StartTransaction(h.tracer, r.Method+" "+r.URL.Path, r)
	defer tx.End()

	rw := &responseWriter{ResponseWriter: w}
	defer func() {
		if v := recover(); v != nil {
			tx.CaptureException(panicError(v))
			if !rw.wroteHeader {
				rw.WriteHeader(http.StatusInternalServerError)
			}
			FinishTransaction(tx, rw.status)
			panic(v)
		}
		FinishTransaction(tx, rw.status)
	}()

	h.next.ServeHTTP(rw, r.WithContext(ctx))
}

// StartTransaction starts a transaction for r, continuing any trace context
// carried by its headers, and records the request on it.
func StartTransaction(tracer *apm.Tracer, name string, r *http.Request) (*apm.Transaction, context.Context) {
	var opts apm.TransactionOptions
	if tc, ok := ParseTraceContext(r.Header); ok {
		opts.TraceContext = tc
	}
	tx, ctx := tracer.StartTransactionOptions(r.Context(), name, "request", opts)
	tx.SetRequest(RequestContext(r))
	return tx, ctx
}

// FinishTransaction records the response status on tx. It does not end tx.
func FinishTransaction(tx *apm.Transaction, status int) {
	if status == 0 {
		status = http.StatusOK
	}
	tx.SetResponse(model.Response{StatusCode: status, HeadersSent: true})
	tx.SetResult(Result(status))
	if ServerOutcome(status) == model.OutcomeFailure {
		tx.SetOutcome(model.OutcomeFailure)
	}
}

// RequestContext describes r for the transaction record. Header values are
// not recorded.
func RequestContext(r *http.Request) model.Request {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	u := *r.URL
	u.Scheme = scheme
	u.Host = r.Host
	return model.Request{
		Method:      r.Method,
		URL:         u.String(),
		HTTPVersion: fmt.Sprintf("%d.%d", r.ProtoMajor, r.ProtoMinor),
		RemoteAddr:  r.RemoteAddr,
	}
}

func panicError(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
