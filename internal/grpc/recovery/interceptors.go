package recovery

import (
	"fmt"
	"log/slog"

	"github.com/caid-tools/depi/internal/grpc/errors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
)

func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return recovery.UnaryServerInterceptor(
		recovery.WithRecoveryHandler(func(p any) (err error) {
			slog.Warn("request failed with panic", slog.String("stacktrace", fmt.Sprintf("%v", p)))
			return errors.Internal().Err()
		}),
	)
}

func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return recovery.StreamServerInterceptor(
		recovery.WithRecoveryHandler(func(p any) (err error) {
			slog.Warn("stream failed with panic", slog.String("stacktrace", fmt.Sprintf("%v", p)))
			return errors.Internal().Err()
		}),
	)
}
