// Package intake implements the synchronous ingress surface the HTTP
// layer calls: title submission and processing-status reporting. It
// never touches the LLM — it only validates, dedups against the Store,
// and enqueues.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"
)

// Port implements interfaces.Intake over a Store.
type Port struct {
	store interfaces.Store
}

// New builds a Port over store.
func New(store interfaces.Store) *Port {
	return &Port{store: store}
}

var _ interfaces.Intake = (*Port)(nil)

// Submit trims surrounding whitespace only — it never strips punctuation
// or casing, since original_title must reach the LLM byte-for-byte as the
// operator typed it. The returned status distinguishes four cases: a
// brand-new title ("queued"), a title already pending or processing
// ("already_queued", id of the existing row), a title that already
// completed ("skipped"), and a title whose only prior row failed, which
// always creates a fresh row ("retried") rather than resurrect the failed
// one, so the failed row's error_message survives as history.
func (p *Port) Submit(ctx context.Context, title string) (interfaces.SubmitResult, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return interfaces.SubmitResult{}, fmt.Errorf("intake: submit: empty title")
	}

	existing, err := p.store.LookupByTitle(ctx, trimmed)
	if err != nil {
		return interfaces.SubmitResult{}, fmt.Errorf("intake: submit: %w", err)
	}

	if existing != nil {
		switch existing.State {
		case models.StateCompleted:
			return interfaces.SubmitResult{ID: existing.ID, Status: interfaces.SubmitSkipped}, nil
		case models.StatePending, models.StateProcessing:
			return interfaces.SubmitResult{ID: existing.ID, Status: interfaces.SubmitQueuedAlready}, nil
		}
		// existing.State == StateFailed: fall through to Enqueue, which
		// excludes failed rows from its own lookup and always inserts a
		// fresh one.
	}

	id, created, err := p.store.Enqueue(ctx, trimmed)
	if err != nil {
		return interfaces.SubmitResult{}, fmt.Errorf("intake: submit: %w", err)
	}

	status := interfaces.SubmitQueued
	if existing != nil && existing.State == models.StateFailed {
		status = interfaces.SubmitRetried
	}
	if !created {
		// A concurrent submit raced us between LookupByTitle and Enqueue
		// and won; treat it the same as finding it already queued.
		status = interfaces.SubmitQueuedAlready
	}

	return interfaces.SubmitResult{ID: id, Status: status}, nil
}

// Status reports current queue counts and a slice of recent failures for
// the processing-status API.
func (p *Port) Status(ctx context.Context) (interfaces.StatusReport, error) {
	counts, err := p.store.CountByState(ctx)
	if err != nil {
		return interfaces.StatusReport{}, fmt.Errorf("intake: status: %w", err)
	}
	failures, err := p.store.RecentFailures(ctx, 20)
	if err != nil {
		return interfaces.StatusReport{}, fmt.Errorf("intake: status: %w", err)
	}
	return interfaces.StatusReport{Counts: counts, RecentFailures: failures}, nil
}
