// internal/inference/onnx.go
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes a model with one [batch, InputDim] float input and one
// [batch, OutputDim] float output.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputDim    int64
	OutputDim   int64
}

// Inference wraps an ONNX runtime session for thread-safe inference.
// It implements the Engine interface.
type Inference struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	inputDim  int64
	outputDim int64
}

// New creates a new Inference instance by loading the ONNX model described by cfg
func New(cfg ONNXConfig) (*Inference, error) {
	if cfg.InputDim <= 0 || cfg.OutputDim <= 0 {
		return nil, fmt.Errorf("invalid model dimensions: input=%d, output=%d", cfg.InputDim, cfg.OutputDim)
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	// Dynamic session so the batch dimension can vary per call
	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil,
	)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Inference{
		session:   session,
		inputDim:  cfg.InputDim,
		outputDim: cfg.OutputDim,
	}, nil
}

// Predict runs the batch through the model and returns the output row of each instance.
func (inf *Inference) Predict(ctx context.Context, batch []any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := features(batch, inf.inputDim)
	if err != nil {
		return nil, err
	}

	out, err := inf.run(rows, int64(len(batch)))
	if err != nil {
		return nil, err
	}

	results := make([]any, len(batch))
	for i := range batch {
		results[i] = floats(out[int64(i)*inf.outputDim : int64(i+1)*inf.outputDim])
	}
	return results, nil
}

// Explain computes occlusion attributions: each feature is zeroed in turn and
// the drop in the score of the top output is recorded. The baseline and all
// occluded rows of the batch are evaluated in one session run.
func (inf *Inference) Explain(ctx context.Context, batch []any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := features(batch, inf.inputDim)
	if err != nil {
		return nil, err
	}

	perItem := inf.inputDim + 1
	expanded := make([]float32, 0, int64(len(batch))*perItem*inf.inputDim)
	for i := range batch {
		expanded = append(expanded, occlusionRows(rows[int64(i)*inf.inputDim:int64(i+1)*inf.inputDim])...)
	}

	out, err := inf.run(expanded, int64(len(batch))*perItem)
	if err != nil {
		return nil, err
	}

	results := make([]any, len(batch))
	span := perItem * inf.outputDim
	for i := range batch {
		results[i] = attribute(out[int64(i)*span:int64(i+1)*span], inf.outputDim)
	}
	return results, nil
}

func (inf *Inference) run(data []float32, n int64) ([]float32, error) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session == nil {
		return nil, fmt.Errorf("inference session is nil")
	}
	if n == 0 {
		return nil, fmt.Errorf("empty instance batch")
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(n, inf.inputDim), data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(n, inf.outputDim))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := inf.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Tensor memory is released on Destroy
	return append([]float32(nil), outputTensor.GetData()...), nil
}

// Close releases the ONNX session resources
func (inf *Inference) Close() error {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.session != nil {
		err := inf.session.Destroy()
		inf.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}

	return ort.DestroyEnvironment()
}

// features packs numeric instances into one row-major [len(batch), dim] buffer.
func features(batch []any, dim int64) ([]float32, error) {
	out := make([]float32, 0, int64(len(batch))*dim)
	for i, inst := range batch {
		row, err := featureRow(inst)
		if err != nil {
			return nil, fmt.Errorf("%w: instance %d: %v", ErrInvalidInstance, i, err)
		}
		if int64(len(row)) != dim {
			return nil, fmt.Errorf("%w: instance %d has %d features, expected %d", ErrInvalidInstance, i, len(row), dim)
		}
		out = append(out, row...)
	}
	return out, nil
}

func featureRow(inst any) ([]float32, error) {
	switch v := inst.(type) {
	case []float32:
		return v, nil
	case []float64:
		row := make([]float32, len(v))
		for i, f := range v {
			row[i] = float32(f)
		}
		return row, nil
	case []any:
		row := make([]float32, len(v))
		for i, e := range v {
			f, err := number(e)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			row[i] = f
		}
		return row, nil
	default:
		return nil, fmt.Errorf("expected a list of numbers, got %T", inst)
	}
}

func number(v any) (float32, error) {
	switch n := v.(type) {
	case float64:
		return float32(n), nil
	case float32:
		return n, nil
	case int:
		return float32(n), nil
	case int64:
		return float32(n), nil
	case json.Number:
		f, err := n.Float64()
		return float32(f), err
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

// occlusionRows returns the row itself followed by one copy per feature with
// that feature zeroed.
func occlusionRows(row []float32) []float32 {
	d := len(row)
	out := make([]float32, 0, (d+1)*d)
	out = append(out, row...)
	for j := 0; j < d; j++ {
		start := len(out)
		out = append(out, row...)
		out[start+j] = 0
	}
	return out
}

// attribute turns the model outputs for one baseline row plus its occluded rows
// into an explanation.
func attribute(out []float32, outputDim int64) map[string]any {
	base := out[:outputDim]
	target := 0
	for k := range base {
		if base[k] > base[target] {
			target = k
		}
	}

	occluded := (int64(len(out)) / outputDim) - 1
	attributions := make([]any, occluded)
	for j := int64(0); j < occluded; j++ {
		row := out[(j+1)*outputDim : (j+2)*outputDim]
		attributions[j] = float64(base[target] - row[target])
	}

	return map[string]any{
		"target":       target,
		"score":        float64(base[target]),
		"attributions": attributions,
	}
}

func floats(v []float32) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Ensure Inference implements Engine at compile time
var _ Engine = (*Inference)(nil)
