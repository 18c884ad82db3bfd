package models

import "time"

// BatchAssignment is the ephemeral record of a batch in flight inside the
// Worker Pool. It holds no durable state of its own — on crash, the
// underlying QueueItems' state=processing rows are the recovery record.
type BatchAssignment struct {
	BatchID   string
	Items     []QueueItem
	StartedAt time.Time
}

// LLMRequestItem is one entry of the user message sent to the LLM: the
// assigned integer id paired with the raw, unmodified title.
type LLMRequestItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// LLMResponseItem is one entry of the strict response envelope the LLM
// Client parses and validates. The Batch Processor trusts every field
// verbatim once the envelope round-trips validation.
type LLMResponseItem struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`
	Technologies    []string `json:"technologies"`
	ComplexityLevel string   `json:"complexity_level"`
}
