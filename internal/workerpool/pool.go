// Package workerpool implements the Worker Pool: a ticker-driven loop that
// claims pending items from the Store, partitions them into batches, and
// dispatches each batch to a bounded-parallel executor.
package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"
)

// Config holds the tunables from the operator config table (§6).
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	MaxParallel  int
	StaleTimeout time.Duration
}

// ClaimSize returns min(30, 10*BatchSize), the per-tick claim limit.
func (c Config) ClaimSize() int {
	n := 10 * c.BatchSize
	if n > 30 {
		return 30
	}
	if n < c.BatchSize {
		return c.BatchSize
	}
	return n
}

// Pool runs the poll/claim/dispatch loop against a Store and a
// BatchProcessor, bounded to Config.MaxParallel concurrent batch
// executions via a weighted semaphore.
type Pool struct {
	store     interfaces.Store
	processor interfaces.BatchProcessor
	cfg       Config
	logger    *common.Logger

	sem    *semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool. cfg.BatchSize is clamped to the [1,5] range enforced
// by config loading; cfg.MaxParallel defaults to 80 if non-positive.
func New(store interfaces.Store, processor interfaces.BatchProcessor, cfg Config, logger *common.Logger) *Pool {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 80
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > 5 {
		cfg.BatchSize = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 30 * time.Minute
	}
	return &Pool{
		store:     store,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(cfg.MaxParallel)),
	}
}

// safeGo launches a goroutine with panic recovery and logging, tracked by
// the pool's WaitGroup so Stop can drain it.
func (p *Pool) safeGo(name string, fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker pool goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the poll loop and the periodic stale-reset loop. It
// performs one ResetStale sweep synchronously before returning, so a
// caller that immediately starts accepting submissions does not race a
// crash-recovery reset against fresh claims.
func (p *Pool) Start() {
	if p.cancel != nil {
		p.Stop(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if n, err := p.store.ResetStale(ctx, p.cfg.StaleTimeout); err != nil {
		p.logger.Warn().Err(err).Msg("startup stale reset failed")
	} else if n > 0 {
		p.logger.Info().Int("count", n).Msg("reclaimed stale processing items at startup")
	}

	p.safeGo("poll-loop", func() { p.pollLoop(ctx) })
	p.safeGo("stale-reset-loop", func() { p.staleResetLoop(ctx) })

	p.logger.Info().
		Int("batch_size", p.cfg.BatchSize).
		Dur("poll_interval", p.cfg.PollInterval).
		Int("max_parallel", p.cfg.MaxParallel).
		Msg("worker pool started")
}

// Stop cancels the loops, waits until ctx is done (indefinitely if ctx is
// never canceled and carries no deadline) for in-flight batches to
// finish, then resets every still-processing item back to pending so a
// clean shutdown never strands work in the processing state.
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool drain deadline exceeded; resetting remaining processing items anyway")
	}

	resetCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if n, err := p.store.ResetStale(resetCtx, 0); err != nil {
		p.logger.Warn().Err(err).Msg("shutdown stale reset failed")
	} else if n > 0 {
		p.logger.Info().Int("count", n).Msg("reset processing items to pending on shutdown")
	}

	p.logger.Info().Msg("worker pool stopped")
}

// pollLoop claims pending items every PollInterval and dispatches them in
// batches of at most BatchSize. The claim size is the full per-tick
// allotment regardless of free executor slots — dispatchBatches is what
// provides backpressure, blocking on semaphore acquisition until a slot
// frees, so the loop never claims faster than it can submit.
func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	items, err := p.store.ClaimPending(ctx, p.cfg.ClaimSize())
	if err != nil {
		p.logger.Warn().Err(err).Msg("claim pending failed; will retry next tick")
		return
	}
	if len(items) == 0 {
		return
	}

	batches := splitBatches(items, p.cfg.BatchSize)
	p.dispatchBatches(ctx, batches)
}

// dispatchBatches runs each batch in its own goroutine under an errgroup,
// acquiring one semaphore unit per batch before launching it. Acquisition
// blocks the dispatching loop when the executor is saturated, which is
// the pool's sole backpressure mechanism.
func (p *Pool) dispatchBatches(ctx context.Context, batches [][]models.QueueItem) {
	g, gctx := errgroup.WithContext(context.Background())
	for _, batch := range batches {
		assignment := models.BatchAssignment{
			BatchID:   uuid.New().String(),
			Items:     batch,
			StartedAt: time.Now(),
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			p.executeBatch(gctx, assignment)
			return nil
		})
	}
	_ = g.Wait()
}

// executeBatch runs the processor against one batch and applies the
// resulting outcome to the Store. A panic inside the processor is
// recovered here so it never escapes to the dispatching errgroup.
func (p *Pool) executeBatch(ctx context.Context, assignment models.BatchAssignment) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("batch_id", assignment.BatchID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("recovered from panic executing batch")
			p.applyOutcome(ctx, assignment.Items, interfaces.BatchOutcome{
				Kind:   interfaces.OutcomeFatalFail,
				Reason: fmt.Errorf("panic: %v", r),
			})
		}
	}()

	p.logger.Debug().Str("batch_id", assignment.BatchID).Int("size", len(assignment.Items)).Msg("dispatching batch")
	outcome := p.processor.Process(ctx, assignment.Items)
	p.logger.Debug().
		Str("batch_id", assignment.BatchID).
		Dur("elapsed", time.Since(assignment.StartedAt)).
		Msg("batch finished")
	p.applyOutcome(ctx, assignment.Items, outcome)
}

// applyOutcome writes the batch's outcome back through the Store, with
// one retry on a write-back failure per item before leaving it in
// processing for the next ResetStale sweep to reclaim.
func (p *Pool) applyOutcome(ctx context.Context, batch []models.QueueItem, outcome interfaces.BatchOutcome) {
	switch outcome.Kind {
	case interfaces.OutcomeSuccess:
		byID := make(map[int64]interfaces.ItemOutcome, len(outcome.Items))
		for _, item := range outcome.Items {
			byID[item.ID] = item
		}
		for _, qi := range batch {
			result, ok := byID[qi.ID]
			if !ok {
				p.writeBack(ctx, qi.ID, func() error {
					return p.store.Fail(ctx, qi.ID, "llm response missing this item")
				})
				continue
			}
			p.writeBack(ctx, qi.ID, func() error {
				return p.store.Complete(ctx, qi.ID, result.CurrentTitle, result.Topic)
			})
		}
	case interfaces.OutcomeTransientFail:
		for _, qi := range batch {
			p.writeBack(ctx, qi.ID, func() error {
				return p.store.Requeue(ctx, qi.ID)
			})
		}
	case interfaces.OutcomeFatalFail:
		msg := "batch failed"
		if outcome.Reason != nil {
			msg = outcome.Reason.Error()
		}
		for _, qi := range batch {
			p.writeBack(ctx, qi.ID, func() error {
				return p.store.Fail(ctx, qi.ID, msg)
			})
		}
	}
}

// writeBack retries a single Store write-back once after a short pause;
// on a second failure the item is left in processing, to be reclaimed by
// the next ResetStale sweep rather than risk a partial/duplicate write.
func (p *Pool) writeBack(ctx context.Context, id int64, fn func() error) {
	if err := fn(); err == nil {
		return
	} else {
		p.logger.Warn().Int("id", int(id)).Err(err).Msg("write-back failed, retrying once")
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(200 * time.Millisecond):
	}

	if err := fn(); err != nil {
		p.logger.Error().Int("id", int(id)).Err(err).Msg("write-back failed twice; leaving item in processing for stale reset")
	}
}

// staleResetLoop invokes Store.ResetStale every StaleTimeout, recovering
// items orphaned by a crash mid-batch.
func (p *Pool) staleResetLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StaleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := p.store.ResetStale(ctx, p.cfg.StaleTimeout); err != nil {
				p.logger.Warn().Err(err).Msg("periodic stale reset failed")
			} else if n > 0 {
				p.logger.Info().Int("count", n).Msg("reclaimed stale processing items")
			}
		}
	}
}

// splitBatches partitions items into consecutive groups of at most size,
// preserving FIFO order within and across groups.
func splitBatches(items []models.QueueItem, size int) [][]models.QueueItem {
	if size <= 0 {
		size = 5
	}
	var batches [][]models.QueueItem
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		batches = append(batches, items[:n])
		items = items[n:]
	}
	return batches
}
