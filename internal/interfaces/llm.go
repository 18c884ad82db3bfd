package interfaces

import (
	"context"

	"github.com/bobmcallan/topicforge/internal/models"
)

// LLMClient is the stateless adapter over the remote text-generation API.
// A single call cleans every item in a batch in one round trip.
type LLMClient interface {
	// CleanBatch sends items to the LLM and returns one response per input
	// id, in input order. The envelope is validated before returning: a
	// partial/malformed response is always a ParseError, never a partial
	// result.
	CleanBatch(ctx context.Context, items []models.LLMRequestItem) ([]models.LLMResponseItem, error)
}

// BatchProcessor converts a claimed batch of QueueItems into durable
// outcomes by invoking an LLMClient once and classifying the result.
type BatchProcessor interface {
	Process(ctx context.Context, items []models.QueueItem) BatchOutcome
}

// OutcomeKind tags the variant held by a BatchOutcome.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransientFail
	OutcomeFatalFail
)

// ItemOutcome is one item's result within a successful batch.
type ItemOutcome struct {
	ID           int64
	CurrentTitle string
	Topic        models.TopicPayload
}

// BatchOutcome is the explicit result union the Batch Processor returns.
// Exactly one of Items (for OutcomeSuccess) or Reason (for the two
// failure kinds) is meaningful, selected by Kind.
type BatchOutcome struct {
	Kind   OutcomeKind
	Items  []ItemOutcome
	Reason error
}
