// internal/handler/handler.go
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/middleware"
	"github.com/SyedDaiam9101/inference-envelope/internal/serving"
)

// Submitter queues a single request for batched execution.
type Submitter interface {
	Submit(ctx context.Context, req envelope.RawRequest, mode envelope.Mode) (envelope.OutputFrame, error)
}

// Handler implements InferenceServer and the HTTP routes.
// gRPC batches run as one cycle; HTTP requests are merged by the Submitter.
type Handler struct {
	model    string
	pipeline serving.Runner
	batcher  Submitter
	logger   *zap.Logger
}

// New creates a new Handler serving model through pipeline and batcher.
func New(model string, pipeline serving.Runner, batcher Submitter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		model:    model,
		pipeline: pipeline,
		batcher:  batcher,
		logger:   logger,
	}
}

// Predict handles a single request by delegating to BatchPredict
func (h *Handler) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, invalidArgumentError("request cannot be nil")
	}

	batchResp, err := h.BatchPredict(ctx, &structpb.ListValue{
		Values: []*structpb.Value{structpb.NewStructValue(req)},
	})
	if err != nil {
		return nil, err
	}

	if len(batchResp.Values) == 0 || batchResp.Values[0].GetStructValue() == nil {
		return nil, internalError("no response from batch predict")
	}

	return batchResp.Values[0].GetStructValue(), nil
}

// BatchPredict runs every request of the list through one cycle and returns
// one output frame per request, in order.
func (h *Handler) BatchPredict(ctx context.Context, req *structpb.ListValue) (*structpb.ListValue, error) {
	start := time.Now()

	logger := middleware.Logger(ctx, h.logger)

	if req == nil || len(req.Values) == 0 {
		return nil, invalidArgumentError("batch request cannot be nil or empty")
	}

	if h.pipeline == nil {
		return nil, failedPreconditionError("inference pipeline not initialized")
	}

	batch := make([]envelope.RawRequest, len(req.Values))
	for i, v := range req.Values {
		s := v.GetStructValue()
		if s == nil {
			return nil, invalidArgumentError("request %d is not an object", i)
		}
		batch[i] = envelope.RawRequest(s.AsMap())
	}

	headers := incomingHeaders(ctx)
	frames, err := h.pipeline.Run(ctx, batch, headers)
	if err != nil {
		logger.Warn("batch predict failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return nil, grpcError(err)
	}

	items := make([]any, len(frames))
	for i, f := range frames {
		items[i] = f.Map()
	}
	out, err := structpb.NewList(items)
	if err != nil {
		return nil, internalError("failed to encode results: %v", err)
	}

	logger.Info("batch predict",
		zap.String("mode", envelope.ModeOf(headers).String()),
		zap.Int("batch_size", len(batch)),
		zap.Float64("total_ms", float64(time.Since(start).Microseconds())/1000.0))

	return out, nil
}

// metadataHeaders exposes incoming gRPC metadata as call headers.
type metadataHeaders metadata.MD

func (m metadataHeaders) Header(key string) (any, bool) {
	values := metadata.MD(m).Get(key)
	if len(values) == 0 {
		return nil, false
	}
	return values[0], true
}

func incomingHeaders(ctx context.Context) envelope.HeaderLookup {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return envelope.Headers{}
	}
	return metadataHeaders(md)
}

// Ensure Handler implements InferenceServer at compile time
var _ InferenceServer = (*Handler)(nil)
