package apmgrpc

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/model"
)

// Metadata keys carrying the trace context. gRPC lowercases header names.
var (
	traceparentKey        = strings.ToLower(apm.TraceparentHeader)
	tracestateKey         = strings.ToLower(apm.TracestateHeader)
	elasticTraceparentKey = strings.ToLower(apm.ElasticTraceparentHeader)
)

// UnaryServerInterceptor records each unary call as a transaction of type
// "request" named after the full method.
func UnaryServerInterceptor(tracer *apm.Tracer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		if !tracer.Recording() {
			return handler(ctx, req)
		}

		tx, ctx := startTransaction(ctx, tracer, info.FullMethod)
		defer tx.End()
		defer func() {
			if v := recover(); v != nil {
				tx.CaptureException(fmt.Errorf("panic: %v", v))
				tx.SetResult(codes.Internal.String())
				panic(v)
			}
		}()

		resp, err = handler(ctx, req)
		finishTransaction(tx, err)
		return resp, err
	}
}

// StreamServerInterceptor records each streaming call as a transaction
// covering the lifetime of the stream.
func StreamServerInterceptor(tracer *apm.Tracer) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !tracer.Recording() {
			return handler(srv, ss)
		}

		tx, ctx := startTransaction(ss.Context(), tracer, info.FullMethod)
		defer tx.End()
		tx.SetLabel("rpc.streaming", "true")

		err := handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})
		finishTransaction(tx, err)
		return err
	}
}

// tracedServerStream wraps a ServerStream with the transaction context.
type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}

func startTransaction(ctx context.Context, tracer *apm.Tracer, method string) (*apm.Transaction, context.Context) {
	var opts apm.TransactionOptions
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if tc, ok := parseTraceContext(md); ok {
			opts.TraceContext = tc
		}
	}
	tx, ctx := tracer.StartTransactionOptions(ctx, method, "request", opts)
	tx.SetLabel("rpc.system", "grpc")
	return tx, ctx
}

func finishTransaction(tx *apm.Transaction, err error) {
	code := status.Code(err)
	tx.SetResult(code.String())
	if serverFailure(code) {
		tx.CaptureException(err)
		tx.SetOutcome(model.OutcomeFailure)
	}
}

// serverFailure reports whether code means the server failed, as opposed
// to the client sending a bad request.
func serverFailure(code codes.Code) bool {
	switch code {
	case codes.Unknown, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal, codes.Unavailable, codes.DataLoss,
		codes.Unimplemented:
		return true
	default:
		return false
	}
}

func parseTraceContext(md metadata.MD) (apm.TraceContext, bool) {
	for _, key := range []string{traceparentKey, elasticTraceparentKey} {
		values := md.Get(key)
		if len(values) == 0 {
			continue
		}
		tc, err := apm.ParseTraceparentHeader(values[0])
		if err != nil {
			continue
		}
		tc.State = apm.TraceState(strings.Join(md.Get(tracestateKey), ","))
		return tc, true
	}
	return apm.TraceContext{}, false
}
