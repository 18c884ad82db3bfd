// Package batchproc converts a claimed batch of QueueItems into a durable
// BatchOutcome by invoking the LLM Client once and classifying the result.
// It holds no state of its own and never talks to the Store directly —
// the Worker Pool applies the outcome.
package batchproc

import (
	"context"

	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/llm"
	"github.com/bobmcallan/topicforge/internal/models"
)

// Processor implements interfaces.BatchProcessor against a single
// LLMClient. It is safe for concurrent use: it keeps no per-call state.
type Processor struct {
	client interfaces.LLMClient
}

// New builds a Processor over client.
func New(client interfaces.LLMClient) *Processor {
	return &Processor{client: client}
}

var _ interfaces.BatchProcessor = (*Processor)(nil)

// Process sends items to the LLM in one call and classifies the result
// into exactly one BatchOutcome variant. Partial success never occurs:
// either every item gets a cleaned title and topic payload, or the whole
// batch is a TransientFail (retry as pending) or FatalFail (terminal).
func (p *Processor) Process(ctx context.Context, items []models.QueueItem) interfaces.BatchOutcome {
	if len(items) == 0 {
		return interfaces.BatchOutcome{Kind: interfaces.OutcomeSuccess}
	}

	requests := make([]models.LLMRequestItem, len(items))
	for i, item := range items {
		requests[i] = models.LLMRequestItem{ID: item.ID, Title: item.OriginalTitle}
	}

	responses, err := p.client.CleanBatch(ctx, requests)
	if err != nil {
		return classify(err)
	}

	outcomes := make([]interfaces.ItemOutcome, len(responses))
	for i, r := range responses {
		outcomes[i] = interfaces.ItemOutcome{
			ID:           r.ID,
			CurrentTitle: r.Title,
			Topic: models.TopicPayload{
				Title:           r.Title,
				Description:     r.Description,
				Category:        r.Category,
				Tags:            r.Tags,
				Technologies:    r.Technologies,
				ComplexityLevel: r.ComplexityLevel,
			},
		}
	}
	return interfaces.BatchOutcome{Kind: interfaces.OutcomeSuccess, Items: outcomes}
}

// classify maps an LLMClient error to the batch-level outcome per the
// error-handling table: transient errors (rate limit, quota, 5xx,
// timeout) and an auth error from a single key (which the pool has just
// disabled, so the next attempt uses another key) re-queue every item as
// pending; everything else (parse errors, auth errors with no keys left)
// fails the batch terminally.
func classify(err error) interfaces.BatchOutcome {
	if llm.IsRateLimited(err) || llm.IsTransient(err) || llm.IsAuth(err) {
		return interfaces.BatchOutcome{Kind: interfaces.OutcomeTransientFail, Reason: err}
	}
	return interfaces.BatchOutcome{Kind: interfaces.OutcomeFatalFail, Reason: err}
}
