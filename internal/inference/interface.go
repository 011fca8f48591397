// internal/inference/interface.go
package inference

import (
	"context"
	"errors"
)

// ErrInvalidInstance marks an instance the engine cannot turn into model input.
var ErrInvalidInstance = errors.New("invalid instance")

// Engine runs a flat batch of instances through a model.
// Implementations return exactly one result per instance, in batch order.
type Engine interface {
	// Predict returns one prediction per instance.
	Predict(ctx context.Context, batch []any) ([]any, error)

	// Explain returns one explanation per instance.
	Explain(ctx context.Context, batch []any) ([]any, error)

	// Close releases any resources held by the engine.
	Close() error
}
