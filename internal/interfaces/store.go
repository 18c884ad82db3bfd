// Package interfaces defines the service contracts binding the topic
// ingestion pipeline's components together.
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/topicforge/internal/models"
)

// Store is the single source of truth for queue state, topic data, and
// the fingerprint cache. Implementations must tolerate many concurrent
// readers and writers (see internal/store/sqlite).
type Store interface {
	// Enqueue inserts a new QueueItem for originalTitle, or returns the id
	// of an existing non-failed row. See Store's Enqueue doc for the
	// failed-row policy.
	Enqueue(ctx context.Context, originalTitle string) (id int64, created bool, err error)

	// ClaimPending atomically selects up to limit pending items ordered by
	// created_at ascending and transitions them to processing.
	ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error)

	// Complete transactionally marks id completed with the cleaned title
	// and inserts/upserts the corresponding Topic row.
	Complete(ctx context.Context, id int64, currentTitle string, payload models.TopicPayload) error

	// Fail transitions id to failed, stamping errMsg.
	Fail(ctx context.Context, id int64, errMsg string) error

	// Requeue transitions id back to pending (used for transient batch
	// failures and for the operator retry endpoint).
	Requeue(ctx context.Context, id int64) error

	// ResetStale transitions processing items whose updated_at is older
	// than olderThan back to pending. Returns the count reclaimed.
	ResetStale(ctx context.Context, olderThan time.Duration) (int, error)

	// LookupByTitle returns the QueueItem matching originalTitle exactly,
	// or nil if none exists.
	LookupByTitle(ctx context.Context, originalTitle string) (*models.QueueItem, error)

	// CountByState returns the current count of items in each state.
	CountByState(ctx context.Context) (models.StateCounts, error)

	// RecentFailures returns up to limit of the most recently failed items.
	RecentFailures(ctx context.Context, limit int) ([]models.FailureSummary, error)

	// ListTopics returns a page of QueueItems, optionally filtered by state.
	ListTopics(ctx context.Context, state models.State, page, pageSize int) ([]models.QueueItem, error)

	// CacheGet/CachePut expose the fingerprint cache table to external
	// collaborators (the downstream content generator).
	CacheGet(ctx context.Context, key string) (value []byte, ok bool, err error)
	CachePut(ctx context.Context, key string, value []byte) error

	// Close releases the underlying database handle(s).
	Close() error
}
