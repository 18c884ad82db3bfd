package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/models"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", time.Second, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnqueueDedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, created1, err := s.Enqueue(ctx, "  Intro to Go  ")
	require.NoError(t, err)
	require.True(t, created1)

	id2, created2, err := s.Enqueue(ctx, "Intro to Go")
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, id1, id2)
}

func TestEnqueueFailedRowAlwaysCreatesNew(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _, err := s.Enqueue(ctx, "Retry me")
	require.NoError(t, err)

	claimed, err := s.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, s.Fail(ctx, id1, "llm timeout"))

	id2, created, err := s.Enqueue(ctx, "Retry me")
	require.NoError(t, err)
	require.True(t, created)
	require.NotEqual(t, id1, id2)
}

func TestClaimPendingTransitionsToProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"A", "B", "C"} {
		_, _, err := s.Enqueue(ctx, title)
		require.NoError(t, err)
	}

	claimed, err := s.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, item := range claimed {
		require.Equal(t, models.StateProcessing, item.State)
	}

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
	require.Equal(t, 2, counts.Processing)
}

func TestCompleteInsertsTopicAndClearsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.Enqueue(ctx, "Goroutines Explained")
	require.NoError(t, err)
	_, err = s.ClaimPending(ctx, 10)
	require.NoError(t, err)

	payload := models.TopicPayload{
		Title:           "Goroutines Explained",
		Description:     "concurrency primer",
		Category:        "concurrency",
		Tags:            []string{"go", "concurrency"},
		Technologies:    []string{"go"},
		ComplexityLevel: "beginner",
	}
	require.NoError(t, s.Complete(ctx, id, "Goroutines Explained", payload))

	topics, err := s.ListTopics(ctx, models.StateCompleted, 1, 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.Equal(t, models.StateCompleted, topics[0].State)
	require.Equal(t, "Goroutines Explained", topics[0].CurrentTitle)
	require.Empty(t, topics[0].ErrorMessage)

	var topicTitle string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT title FROM topics WHERE id = ?`, id).Scan(&topicTitle))
	require.Equal(t, "Goroutines Explained", topicTitle)
}

func TestCompleteRejectsNonProcessingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.Enqueue(ctx, "Never Claimed")
	require.NoError(t, err)

	err = s.Complete(ctx, id, "Never Claimed", models.TopicPayload{})
	require.Error(t, err)
}

func TestResetStaleReclaimsOldProcessingRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.Enqueue(ctx, "Stale Item")
	require.NoError(t, err)
	_, err = s.ClaimPending(ctx, 10)
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE topic_queue SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano), id)
	require.NoError(t, err)

	n, err := s.ResetStale(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	item, err := s.LookupByTitle(ctx, "Stale Item")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, models.StatePending, item.State)
}

func TestRecentFailuresOrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _, _ := s.Enqueue(ctx, "First")
	id2, _, _ := s.Enqueue(ctx, "Second")
	require.NoError(t, s.Fail(ctx, id1, "err1"))
	require.NoError(t, s.Fail(ctx, id2, "err2"))

	fails, err := s.RecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fails, 2)
	require.Equal(t, id2, fails[0].ID)
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.CacheGet(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.CachePut(ctx, "key1", []byte("payload")))
	value, ok, err := s.CacheGet(ctx, "key1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), value)
}

// newLegacyTestStore builds a Store over a hand-crafted topic_queue table
// predating the current_title/error_message columns, bypassing Open's
// normal schema-creation path so migrate() sees a genuinely legacy layout.
func newLegacyTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := connString(":memory:", time.Second)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`PRAGMA journal_mode = WAL`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE topic_queue (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		original_title TEXT    NOT NULL,
		state          TEXT    NOT NULL DEFAULT 'pending',
		created_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
		updated_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO topic_queue (original_title, state) VALUES ('Legacy Topic', 'completed')`)
	require.NoError(t, err)

	s := &Store{db: db, logger: common.NewSilentLogger()}
	require.NoError(t, s.migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLegacySchemaIsDetectedAndReadable(t *testing.T) {
	s := newLegacyTestStore(t)
	ctx := context.Background()

	require.True(t, s.legacy)

	item, err := s.LookupByTitle(ctx, "Legacy Topic")
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, models.StateCompleted, item.State)
	require.Equal(t, "", item.CurrentTitle)
	require.Equal(t, "", item.ErrorMessage)

	topics, err := s.ListTopics(ctx, "", 1, 10)
	require.NoError(t, err)
	require.Len(t, topics, 1)

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Completed)
}

func TestLegacySchemaRejectsAllWrites(t *testing.T) {
	s := newLegacyTestStore(t)
	ctx := context.Background()

	_, _, err := s.Enqueue(ctx, "New Topic")
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)

	_, err = s.ClaimPending(ctx, 10)
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)

	err = s.Complete(ctx, 1, "x", models.TopicPayload{})
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)

	err = s.Fail(ctx, 1, "boom")
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)

	err = s.Requeue(ctx, 1)
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)

	_, err = s.ResetStale(ctx, time.Minute)
	require.ErrorIs(t, err, ErrSchemaLegacyReadOnly)
}

func TestBusyRetriesExhaustedWrapsSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")

	origSchedule := busyRetrySchedule
	busyRetrySchedule = []time.Duration{5 * time.Millisecond}
	t.Cleanup(func() { busyRetrySchedule = origSchedule })

	holder, err := Open(path, 10*time.Millisecond, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })

	contender, err := Open(path, 10*time.Millisecond, common.NewSilentLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = contender.Close() })

	ctx := context.Background()
	conn, err := holder.db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)
	defer conn.ExecContext(ctx, `ROLLBACK`)

	_, _, err = contender.Enqueue(ctx, "Contended")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrBusyExhausted)
}

func TestConcurrentEnqueueSerializesWithoutError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			_, _, err := s.Enqueue(ctx, "concurrent-title")
			_ = i
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	counts, err := s.CountByState(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Pending)
}
