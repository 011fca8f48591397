// internal/middleware/request_id.go
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDHeader carries the request ID in gRPC metadata and HTTP headers.
const RequestIDHeader = "x-request-id"

// maxRequestIDLen bounds client supplied IDs; longer ones are replaced.
const maxRequestIDLen = 128

type requestIDKey struct{}

// UnaryRequestIDInterceptor tags every call with a request ID, taken from the
// incoming metadata when the client sent a usable one, and echoes it in the
// response headers.
func UnaryRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var sent string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(RequestIDHeader); len(values) > 0 {
				sent = values[0]
			}
		}

		id := requestID(sent)
		ctx = WithRequestID(ctx, id)

		// No transport stream is attached when the handler is called directly.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		return handler(ctx, req)
	}
}

// RequestID is the HTTP counterpart of UnaryRequestIDInterceptor.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r.Header.Get(RequestIDHeader))
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// requestID keeps a client ID of sane length and printable ASCII, otherwise
// it mints a new UUID.
func requestID(sent string) string {
	if sent == "" || len(sent) > maxRequestIDLen {
		return uuid.NewString()
	}
	for i := 0; i < len(sent); i++ {
		if c := sent[i]; c < 0x21 || c > 0x7e {
			return uuid.NewString()
		}
	}
	return sent
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request ID stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// Logger returns base annotated with the request ID of ctx, if any.
func Logger(ctx context.Context, base *zap.Logger) *zap.Logger {
	if id := GetRequestID(ctx); id != "" {
		return base.With(zap.String("request_id", id))
	}
	return base
}
