// Package apmgrpc instruments gRPC servers and clients with interceptors.
//
//	server := grpc.NewServer(
//		grpc.UnaryInterceptor(apmgrpc.UnaryServerInterceptor(tracer)),
//		grpc.StreamInterceptor(apmgrpc.StreamServerInterceptor(tracer)),
//	)
//
//	conn, err := grpc.NewClient(target,
//		grpc.WithUnaryInterceptor(apmgrpc.UnaryClientInterceptor()))
package apmgrpc
