// internal/handler/errors.go
package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/inference"
	"github.com/SyedDaiam9101/inference-envelope/internal/serving"
)

// errModelNotFound is returned for requests addressed to another model name.
var errModelNotFound = errors.New("model not found")

// classify maps cycle errors to a gRPC code.
func classify(err error) codes.Code {
	var mismatch *envelope.LengthMismatchError

	switch {
	// Inside the server the ledger always comes from Normalize, so a
	// mismatch means the engine returned too few results.
	case errors.As(err, &mismatch):
		return codes.Internal
	case errors.Is(err, envelope.ErrBadInput), errors.Is(err, inference.ErrInvalidInstance):
		return codes.InvalidArgument
	case errors.Is(err, errModelNotFound):
		return codes.NotFound
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, serving.ErrBatcherClosed):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// grpcError maps known internal errors to appropriate gRPC status errors
func grpcError(err error) error {
	if err == nil {
		return nil
	}

	code := classify(err)
	switch code {
	case codes.InvalidArgument:
		return status.Errorf(code, "bad request: %v", err)
	case codes.Internal:
		return status.Errorf(code, "inference execution failed: %v", err)
	default:
		return status.Error(code, err.Error())
	}
}

// httpStatus maps the same errors to HTTP status codes
func httpStatus(err error) int {
	switch classify(err) {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		// client went away; the status is only logged
		return 499
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// invalidArgumentError creates an InvalidArgument gRPC error
func invalidArgumentError(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// failedPreconditionError creates a FailedPrecondition gRPC error
func failedPreconditionError(format string, args ...interface{}) error {
	return status.Errorf(codes.FailedPrecondition, format, args...)
}

// internalError creates an Internal gRPC error
func internalError(format string, args ...interface{}) error {
	return status.Errorf(codes.Internal, format, args...)
}
