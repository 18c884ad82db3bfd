// Package models holds the persistent and ephemeral data shapes shared
// across the topic-ingestion pipeline.
package models

import "time"

// State is the lifecycle state of a QueueItem.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// QueueItem is a single submitted title moving through the ingestion
// pipeline. OriginalTitle is immutable after insert; CurrentTitle is set
// exactly once, when the item transitions to StateCompleted.
type QueueItem struct {
	ID            int64     `json:"id"`
	OriginalTitle string    `json:"original_title"`
	CurrentTitle  string    `json:"current_title,omitempty"`
	State         State     `json:"state"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StateCounts is the result of Store.CountByState — one entry per known
// state, zero-filled for states with no rows.
type StateCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// FailureSummary is a slimmed-down view of a failed QueueItem for the
// processing-status API.
type FailureSummary struct {
	ID            int64     `json:"id"`
	OriginalTitle string    `json:"original_title"`
	ErrorMessage  string    `json:"error_message"`
	UpdatedAt     time.Time `json:"updated_at"`
}
