package logging

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor logs every unary request/response pair at info
// level, and failures at error level. Depi's RPC messages are plain Go
// structs (the wire schema is intentionally opaque, see SPEC_FULL.md
// §4.11), so unlike the teacher's protobuf-specific logger this logs
// requests with %v rather than a protobuf marshaler.
func UnaryServerInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		logger.InfoContext(ctx, "rpc request received", slog.String("method", info.FullMethod), slog.Any("request", req))
		resp, err := handler(ctx, req)
		if err != nil {
			logger.ErrorContext(ctx, "request failed", slog.String("method", info.FullMethod), slog.Any("error", status.Convert(err).Proto()))
		} else {
			logger.InfoContext(ctx, "rpc response sent", slog.String("method", info.FullMethod))
		}
		return resp, err
	}
}

// UnaryClientInterceptor mirrors UnaryServerInterceptor on the client
// side. Nothing in this module installs it.
func UnaryClientInterceptor(logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		logger.InfoContext(ctx, method, slog.Any("request", req))
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			logger.ErrorContext(ctx, "request failed", slog.String("method", method), slog.Any("error", status.Convert(err).Proto()))
		} else {
			logger.InfoContext(ctx, "rpc response received", slog.String("method", method))
		}
		return err
	}
}

// StreamServerInterceptor logs the lifecycle of a server-streaming RPC.
// Individual events pushed through the stream are not logged
// individually to avoid flooding the log with every dirtiness
// notification.
func StreamServerInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.InfoContext(ss.Context(), "rpc stream opened", slog.String("method", info.FullMethod))
		err := handler(srv, ss)
		if err != nil {
			logger.ErrorContext(ss.Context(), "rpc stream closed with error", slog.String("method", info.FullMethod), slog.Any("error", status.Convert(err).Proto()))
		} else {
			logger.InfoContext(ss.Context(), "rpc stream closed", slog.String("method", info.FullMethod))
		}
		return err
	}
}
