// internal/serving/pipeline.go

// Package serving runs normalize, inference and framing as one cycle and
// merges concurrent client requests into shared cycles.
package serving

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/inference"
	"github.com/SyedDaiam9101/inference-envelope/internal/metrics"
)

// Runner executes one cycle over a batch of raw requests.
type Runner interface {
	Run(ctx context.Context, batch []envelope.RawRequest, headers envelope.HeaderLookup) ([]envelope.OutputFrame, error)
}

// Pipeline is safe for concurrent use. The ledger of a cycle lives only on
// the stack of its Run call.
type Pipeline struct {
	engine inference.Engine
	logger *zap.Logger
	tracer trace.Tracer
	opts   envelope.Options
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNormalizeOptions sets the options every cycle normalizes with.
func WithNormalizeOptions(opts envelope.Options) Option {
	return func(p *Pipeline) { p.opts = opts }
}

// NewPipeline creates a Pipeline around engine.
func NewPipeline(engine inference.Engine, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		engine: engine,
		logger: logger,
		tracer: otel.Tracer("github.com/SyedDaiam9101/inference-envelope/internal/serving"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit normalizes req on its own, with the options of the pipeline, so a
// request that would fail a shared cycle can be rejected before joining one.
func (p *Pipeline) Admit(req envelope.RawRequest) error {
	_, _, err := envelope.NormalizeWith([]envelope.RawRequest{req}, p.opts)
	return err
}

// Run normalizes batch, runs the engine in the mode selected by headers and
// frames the results back into one frame per request.
func (p *Pipeline) Run(ctx context.Context, batch []envelope.RawRequest, headers envelope.HeaderLookup) ([]envelope.OutputFrame, error) {
	ctx, span := p.tracer.Start(ctx, "envelope.cycle", trace.WithAttributes(
		attribute.Int("envelope.requests", len(batch)),
	))
	defer span.End()

	metrics.RecordRequestsPerBatch(len(batch))

	flat, ledger, err := envelope.NormalizeWith(batch, p.opts)
	if err != nil {
		return nil, p.fail(span, err)
	}

	mode := envelope.ModeOf(headers)
	span.SetAttributes(
		attribute.String("envelope.mode", mode.String()),
		attribute.Int("envelope.instances", len(flat)),
	)

	results := []any{}
	if len(flat) > 0 {
		results, err = p.infer(ctx, mode, flat)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "inference failed")
			return nil, fmt.Errorf("%s failed: %w", mode, err)
		}
	}

	frames, err := envelope.Frame(results, ledger, headers)
	if err != nil {
		return nil, p.fail(span, err)
	}

	p.logger.Debug("cycle complete",
		zap.String("mode", mode.String()),
		zap.Int("requests", len(batch)),
		zap.Int("instances", len(flat)),
		zap.Ints("ledger", ledger))

	return frames, nil
}

func (p *Pipeline) infer(ctx context.Context, mode envelope.Mode, flat envelope.Batch) ([]any, error) {
	metrics.RecordInferenceBatch(mode.String(), len(flat))

	start := time.Now()
	var (
		results []any
		err     error
	)
	if mode == envelope.ModeExplain {
		results, err = p.engine.Explain(ctx, flat)
	} else {
		results, err = p.engine.Predict(ctx, flat)
	}
	metrics.RecordInferenceLatency(mode.String(), time.Since(start).Seconds())

	return results, err
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	kind := envelope.Kind(err)
	metrics.RecordEnvelopeError(kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	p.logger.Debug("envelope rejected batch", zap.String("kind", kind), zap.Error(err))
	return err
}
