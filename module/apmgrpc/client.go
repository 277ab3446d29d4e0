package apmgrpc

import (
	"context"
	"net"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
)

// UnaryClientInterceptor records each unary call made within a traced
// context as an exit span and sends its trace context as metadata.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		parent := apm.SegmentFromContext(ctx)
		if parent == nil {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		span, _ := parent.StartSpanOptions(ctx, method, "external.grpc", apm.SpanOptions{ExitSpan: true})
		defer span.End()

		tc := span.TraceContext()
		if span.Dropped() {
			tc = parent.TraceContext()
		}
		ctx = outgoingContext(ctx, tc)
		span.SetDestination(target(cc))

		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			span.CaptureException(err)
			if status.Code(err) == codes.Canceled {
				span.SetOutcome(model.OutcomeUnknown)
			}
		}
		return err
	}
}

func outgoingContext(ctx context.Context, tc apm.TraceContext) context.Context {
	if !tc.Valid() {
		return ctx
	}
	pairs := []string{traceparentKey, apm.FormatTraceparentHeader(tc)}
	if tc.State != "" {
		pairs = append(pairs, tracestateKey, tc.State.String())
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

// target splits the connection target into host and port, ignoring any
// resolver scheme.
func target(cc *grpc.ClientConn) (string, int) {
	if cc == nil {
		return "", 0
	}
	t := cc.Target()
	if i := strings.Index(t, ":///"); i >= 0 {
		t = t[i+4:]
	}
	host, portStr, err := net.SplitHostPort(t)
	if err != nil {
		return t, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
