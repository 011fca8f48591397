// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"
)

// MockInference is a mock implementation of Engine for testing.
// It returns deterministic results without requiring the ONNX shared library.
type MockInference struct {
	mu sync.Mutex

	// DefaultResult is returned for each instance when ResultFunc is nil
	DefaultResult []any
	// ResultFunc, if set, computes the prediction for one instance
	ResultFunc func(instance any) any
	// ShouldError if true, Predict and Explain return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of Predict and Explain calls
	CallCount int
	// Batches records every batch the mock was called with
	Batches [][]any
}

// NewMock creates a new MockInference with default result [0.1, 0.2, 0.3]
func NewMock() *MockInference {
	return &MockInference{
		DefaultResult: []any{0.1, 0.2, 0.3},
	}
}

// NewMockWithFunc creates a MockInference that computes each prediction with fn
func NewMockWithFunc(fn func(instance any) any) *MockInference {
	m := NewMock()
	m.ResultFunc = fn
	return m
}

// Predict returns one result per instance.
func (m *MockInference) Predict(ctx context.Context, batch []any) ([]any, error) {
	if err := m.record(ctx, batch); err != nil {
		return nil, err
	}

	results := make([]any, len(batch))
	for i, inst := range batch {
		results[i] = m.result(inst)
	}
	return results, nil
}

// Explain wraps the prediction of each instance with a fixed attribution vector.
func (m *MockInference) Explain(ctx context.Context, batch []any) ([]any, error) {
	if err := m.record(ctx, batch); err != nil {
		return nil, err
	}

	results := make([]any, len(batch))
	for i, inst := range batch {
		results[i] = map[string]any{
			"prediction":   m.result(inst),
			"attributions": append([]any(nil), m.DefaultResult...),
		}
	}
	return results, nil
}

func (m *MockInference) record(ctx context.Context, batch []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.Batches = append(m.Batches, append([]any(nil), batch...))

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ShouldError {
		if m.ErrorMessage != "" {
			return fmt.Errorf("%s", m.ErrorMessage)
		}
		return fmt.Errorf("mock inference error")
	}
	if len(batch) == 0 {
		return fmt.Errorf("empty instance batch")
	}
	return nil
}

func (m *MockInference) result(inst any) any {
	if m.ResultFunc != nil {
		return m.ResultFunc(inst)
	}
	return append([]any(nil), m.DefaultResult...)
}

// Calls returns CallCount under the lock.
func (m *MockInference) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Close is a no-op for the mock implementation
func (m *MockInference) Close() error {
	return nil
}

// SetError configures the mock to return an error on the next call
func (m *MockInference) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockInference) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Ensure MockInference implements Engine at compile time
var _ Engine = (*MockInference)(nil)
