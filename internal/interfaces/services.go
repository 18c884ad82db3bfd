package interfaces

import (
	"context"

	"github.com/bobmcallan/topicforge/internal/models"
)

// SubmitStatus is the outcome of an Intake.Submit call, surfaced to the
// HTTP layer as part of the POST /api/topics response.
type SubmitStatus string

const (
	SubmitQueued        SubmitStatus = "queued"
	SubmitSkipped       SubmitStatus = "skipped"
	SubmitQueuedAlready SubmitStatus = "already_queued"
	SubmitRetried       SubmitStatus = "retried"
)

// SubmitResult is the per-title result of Intake.Submit.
type SubmitResult struct {
	ID     int64
	Status SubmitStatus
}

// StatusReport is the payload for GET /api/processing-status.
type StatusReport struct {
	Counts         models.StateCounts
	RecentFailures []models.FailureSummary
}

// Intake is the thin, synchronous ingress surface called by the HTTP
// layer. It never touches the LLM — it only validates, dedups, and
// enqueues.
type Intake interface {
	// Submit trims whitespace only (never strips formatting) and either
	// returns an existing item's id or enqueues a new row.
	Submit(ctx context.Context, title string) (SubmitResult, error)

	// Status reports current queue counts and a slice of recent failures.
	Status(ctx context.Context) (StatusReport, error)
}
