// internal/inference/cached.go
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/SyedDaiam9101/inference-envelope/internal/cache"
	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
	"github.com/SyedDaiam9101/inference-envelope/internal/metrics"
)

// ResultStore is the subset of *cache.Cache used by Cached.
type ResultStore interface {
	GetMany(ctx context.Context, keys []string) ([][]byte, error)
	SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
}

// Cached serves repeated instances from a result store and sends only the
// misses to the wrapped engine. Store failures fall through to the engine.
type Cached struct {
	next   Engine
	store  ResultStore
	model  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps next with a per-instance result cache.
func NewCached(next Engine, store ResultStore, model string, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{next: next, store: store, model: model, ttl: ttl, logger: logger}
}

func (c *Cached) Predict(ctx context.Context, batch []any) ([]any, error) {
	return c.run(ctx, envelope.ModePredict, batch, c.next.Predict)
}

func (c *Cached) Explain(ctx context.Context, batch []any) ([]any, error) {
	return c.run(ctx, envelope.ModeExplain, batch, c.next.Explain)
}

func (c *Cached) Close() error {
	return c.next.Close()
}

type engineCall func(ctx context.Context, batch []any) ([]any, error)

func (c *Cached) run(ctx context.Context, mode envelope.Mode, batch []any, call engineCall) ([]any, error) {
	keys := make([]string, len(batch))
	for i, inst := range batch {
		key, err := cache.Key(c.model, mode, inst)
		if err != nil {
			c.logger.Warn("result cache bypassed", zap.Error(err))
			return call(ctx, batch)
		}
		keys[i] = key
	}

	stored, err := c.store.GetMany(ctx, keys)
	if err != nil || len(stored) != len(batch) {
		c.logger.Warn("result cache lookup failed", zap.Error(err), zap.Int("instances", len(batch)))
		return call(ctx, batch)
	}

	results := make([]any, len(batch))
	var (
		missIdx   []int
		missBatch []any
	)
	for i, raw := range stored {
		if raw != nil {
			var v any
			if err := json.Unmarshal(raw, &v); err == nil {
				results[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missBatch = append(missBatch, batch[i])
	}
	metrics.RecordCacheLookups(len(batch)-len(missIdx), len(missIdx))

	if len(missBatch) == 0 {
		return results, nil
	}

	fresh, err := call(ctx, missBatch)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missBatch) {
		return nil, fmt.Errorf("engine returned %d results for %d instances", len(fresh), len(missBatch))
	}

	entries := make(map[string][]byte, len(fresh))
	for n, i := range missIdx {
		results[i] = fresh[n]
		if b, err := json.Marshal(fresh[n]); err == nil {
			entries[keys[i]] = b
		}
	}
	if err := c.store.SetMany(ctx, entries, c.ttl); err != nil {
		c.logger.Warn("result cache store failed", zap.Error(err))
	}

	return results, nil
}

// Ensure Cached implements Engine at compile time
var _ Engine = (*Cached)(nil)
