// internal/serving/batcher.go
package serving

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
)

// ErrBatcherClosed is returned by Submit after Close.
var ErrBatcherClosed = errors.New("batcher closed")

// BatcherConfig controls how requests are merged.
type BatcherConfig struct {
	// MaxBatchSize is the largest number of client requests per cycle
	MaxBatchSize int
	// MaxDelay is how long the first request of a batch waits for company
	MaxDelay time.Duration
	// MaxInFlight bounds concurrently running cycles
	MaxInFlight int64
}

func (c BatcherConfig) withDefaults() BatcherConfig {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 16
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Millisecond
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	return c
}

type reply struct {
	frame envelope.OutputFrame
	err   error
}

type pending struct {
	ctx   context.Context
	req   envelope.RawRequest
	reply chan reply
}

// Batcher merges single requests submitted concurrently into shared cycles.
// Each mode has its own queue so every cycle runs with one explain header.
type Batcher struct {
	runner Runner
	cfg    BatcherConfig
	logger *zap.Logger

	queues   map[envelope.Mode]chan *pending
	inflight *semaphore.Weighted
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewBatcher starts one collector goroutine per mode. Call Close to stop them.
func NewBatcher(runner Runner, cfg BatcherConfig, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	b := &Batcher{
		runner: runner,
		cfg:    cfg,
		logger: logger,
		queues: map[envelope.Mode]chan *pending{
			envelope.ModePredict: make(chan *pending),
			envelope.ModeExplain: make(chan *pending),
		},
		inflight: semaphore.NewWeighted(cfg.MaxInFlight),
		done:     make(chan struct{}),
	}

	for mode, queue := range b.queues {
		b.wg.Add(1)
		go b.collect(mode, queue)
	}
	return b
}

// Submit queues req and waits for its frame.
func (b *Batcher) Submit(ctx context.Context, req envelope.RawRequest, mode envelope.Mode) (envelope.OutputFrame, error) {
	queue, ok := b.queues[mode]
	if !ok {
		return envelope.OutputFrame{}, fmt.Errorf("unknown mode %d", mode)
	}

	p := &pending{ctx: ctx, req: req, reply: make(chan reply, 1)}
	select {
	case queue <- p:
	case <-ctx.Done():
		return envelope.OutputFrame{}, ctx.Err()
	case <-b.done:
		return envelope.OutputFrame{}, ErrBatcherClosed
	}

	select {
	case r := <-p.reply:
		return r.frame, r.err
	case <-ctx.Done():
		return envelope.OutputFrame{}, ctx.Err()
	}
}

// Close stops accepting requests and waits for running cycles to finish.
func (b *Batcher) Close() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Batcher) collect(mode envelope.Mode, queue chan *pending) {
	defer b.wg.Done()

	for {
		var first *pending
		select {
		case first = <-queue:
		case <-b.done:
			return
		}

		batch := []*pending{first}
		timer := time.NewTimer(b.cfg.MaxDelay)
	fill:
		for len(batch) < b.cfg.MaxBatchSize {
			select {
			case p := <-queue:
				batch = append(batch, p)
			case <-timer.C:
				break fill
			case <-b.done:
				break fill
			}
		}
		timer.Stop()

		// Blocks collection while MaxInFlight cycles are running.
		if err := b.inflight.Acquire(context.Background(), 1); err != nil {
			b.answer(batch, nil, err)
			continue
		}
		b.wg.Add(1)
		go func(batch []*pending) {
			defer b.wg.Done()
			defer b.inflight.Release(1)
			b.dispatch(mode, batch)
		}(batch)
	}
}

func (b *Batcher) dispatch(mode envelope.Mode, batch []*pending) {
	live := make([]*pending, 0, len(batch))
	for _, p := range batch {
		if err := p.ctx.Err(); err != nil {
			p.reply <- reply{err: err}
			continue
		}
		live = append(live, p)
	}
	if len(live) == 0 {
		return
	}

	reqs := make([]envelope.RawRequest, len(live))
	for i, p := range live {
		reqs[i] = p.req
	}

	frames, err := b.runner.Run(context.Background(), reqs, envelope.HeadersFor(mode))
	if err == nil && len(frames) != len(live) {
		err = fmt.Errorf("cycle returned %d frames for %d requests", len(frames), len(live))
	}
	if err != nil {
		b.logger.Warn("batched cycle failed",
			zap.String("mode", mode.String()),
			zap.Int("requests", len(live)),
			zap.Error(err))
	}
	b.answer(live, frames, err)
}

func (b *Batcher) answer(batch []*pending, frames []envelope.OutputFrame, err error) {
	for i, p := range batch {
		if err != nil {
			p.reply <- reply{err: err}
			continue
		}
		p.reply <- reply{frame: frames[i]}
	}
}
