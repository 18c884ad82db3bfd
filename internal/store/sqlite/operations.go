package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/topicforge/internal/models"
)

const queueColumns = "id, original_title, current_title, state, error_message, created_at, updated_at"

// queueSelectColumns returns the column list for reading topic_queue,
// synthesizing current_title/error_message as empty strings when the
// table predates those columns.
func (s *Store) queueSelectColumns() string {
	if s.legacy {
		return "id, original_title, '' AS current_title, state, '' AS error_message, created_at, updated_at"
	}
	return queueColumns
}

// errorMessageSelectExpr returns the error_message select expression,
// synthesized as an empty string against a legacy table that lacks it.
func (s *Store) errorMessageSelectExpr() string {
	if s.legacy {
		return "'' AS error_message"
	}
	return "error_message"
}

// Enqueue inserts a new QueueItem for originalTitle, or returns the id of an
// existing row for that exact title. A row in state=failed does not count
// as existing: resubmitting a failed title always creates a fresh pending
// row, since the failed row already carries a terminal error_message that
// a caller of LookupByTitle may still want to read.
func (s *Store) Enqueue(ctx context.Context, originalTitle string) (int64, bool, error) {
	if s.legacy {
		return 0, false, fmt.Errorf("store: enqueue: %w", ErrSchemaLegacyReadOnly)
	}

	title := strings.TrimSpace(originalTitle)
	if title == "" {
		return 0, false, fmt.Errorf("store: enqueue: empty title")
	}

	var id int64
	var created bool

	err := s.withImmediate(ctx, func(t *tx) error {
		row := t.QueryRowContext(
			`SELECT id FROM topic_queue WHERE original_title = ? AND state != 'failed' LIMIT 1`,
			title,
		)
		var existing int64
		switch err := row.Scan(&existing); err {
		case nil:
			id = existing
			created = false
			return nil
		case sql.ErrNoRows:
			// fall through to insert
		default:
			return err
		}

		res, err := t.ExecContext(
			`INSERT INTO topic_queue (original_title, state) VALUES (?, 'pending')`,
			title,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("store: enqueue: %w", err)
	}
	return id, created, nil
}

// ClaimPending atomically selects up to limit pending items ordered by
// created_at ascending and transitions them to processing.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]models.QueueItem, error) {
	if s.legacy {
		return nil, fmt.Errorf("store: claim pending: %w", ErrSchemaLegacyReadOnly)
	}
	if limit <= 0 {
		return nil, nil
	}

	var items []models.QueueItem

	err := s.withImmediate(ctx, func(t *tx) error {
		rows, err := t.QueryContext(
			`SELECT `+s.queueSelectColumns()+` FROM topic_queue WHERE state = 'pending' ORDER BY created_at ASC LIMIT ?`,
			limit,
		)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			item, err := rowToItem(rows)
			if err != nil {
				rows.Close()
				return err
			}
			items = append(items, item)
			ids = append(ids, item.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, 0, len(ids)+1)
		args = append(args, nowRFC3339())
		for _, id := range ids {
			args = append(args, id)
		}
		_, err = t.ExecContext(
			fmt.Sprintf(`UPDATE topic_queue SET state = 'processing', updated_at = ? WHERE id IN (%s)`, placeholders),
			args...,
		)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].State = models.StateProcessing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: claim pending: %w", err)
	}
	return items, nil
}

// Complete transactionally marks id completed with the cleaned title and
// inserts the corresponding Topic row. It is the only writer of the topics
// table, and writes exactly once per QueueItem by construction: the Worker
// Pool never calls Complete twice for the same id because ClaimPending
// already moved it out of state=pending.
func (s *Store) Complete(ctx context.Context, id int64, currentTitle string, payload models.TopicPayload) error {
	if s.legacy {
		return fmt.Errorf("store: complete %d: %w", id, ErrSchemaLegacyReadOnly)
	}

	tags, err := json.Marshal(payload.Tags)
	if err != nil {
		return fmt.Errorf("store: complete: marshal tags: %w", err)
	}
	techs, err := json.Marshal(payload.Technologies)
	if err != nil {
		return fmt.Errorf("store: complete: marshal technologies: %w", err)
	}

	err = s.withImmediate(ctx, func(t *tx) error {
		now := nowRFC3339()
		res, err := t.ExecContext(
			`UPDATE topic_queue SET state = 'completed', current_title = ?, error_message = '', updated_at = ? WHERE id = ? AND state = 'processing'`,
			currentTitle, now, id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("item %d not in processing state", id)
		}

		_, err = t.ExecContext(
			`INSERT INTO topics (id, title, description, category, tags, technologies, complexity_level, topic_status_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   title = excluded.title, description = excluded.description, category = excluded.category,
			   tags = excluded.tags, technologies = excluded.technologies, complexity_level = excluded.complexity_level`,
			id, payload.Title, payload.Description, payload.Category, string(tags), string(techs), payload.ComplexityLevel, id, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: complete %d: %w", id, err)
	}
	return nil
}

// Fail transitions id to failed, stamping errMsg.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string) error {
	if s.legacy {
		return fmt.Errorf("store: fail %d: %w", id, ErrSchemaLegacyReadOnly)
	}
	err := s.withImmediate(ctx, func(t *tx) error {
		_, err := t.ExecContext(
			`UPDATE topic_queue SET state = 'failed', error_message = ?, updated_at = ? WHERE id = ?`,
			errMsg, nowRFC3339(), id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: fail %d: %w", id, err)
	}
	return nil
}

// Requeue transitions id back to pending, clearing any prior error.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	if s.legacy {
		return fmt.Errorf("store: requeue %d: %w", id, ErrSchemaLegacyReadOnly)
	}
	err := s.withImmediate(ctx, func(t *tx) error {
		_, err := t.ExecContext(
			`UPDATE topic_queue SET state = 'pending', error_message = '', updated_at = ? WHERE id = ?`,
			nowRFC3339(), id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: requeue %d: %w", id, err)
	}
	return nil
}

// ResetStale transitions processing items whose updated_at is older than
// olderThan back to pending. It is called at Worker Pool startup and on a
// periodic tick to recover items orphaned by a crash mid-batch.
func (s *Store) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if s.legacy {
		return 0, fmt.Errorf("store: reset stale: %w", ErrSchemaLegacyReadOnly)
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	var n int64

	err := s.withImmediate(ctx, func(t *tx) error {
		res, err := t.ExecContext(
			`UPDATE topic_queue SET state = 'pending', updated_at = ? WHERE state = 'processing' AND updated_at < ?`,
			nowRFC3339(), cutoff,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: reset stale: %w", err)
	}
	return int(n), nil
}

// LookupByTitle returns the QueueItem matching originalTitle exactly, most
// recent row first, or nil if none exists.
func (s *Store) LookupByTitle(ctx context.Context, originalTitle string) (*models.QueueItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+s.queueSelectColumns()+` FROM topic_queue WHERE original_title = ? ORDER BY created_at DESC LIMIT 1`,
		strings.TrimSpace(originalTitle),
	)
	item, err := rowToItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup by title: %w", err)
	}
	return &item, nil
}

// CountByState returns the current count of items in each state.
func (s *Store) CountByState(ctx context.Context) (models.StateCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM topic_queue GROUP BY state`)
	if err != nil {
		return models.StateCounts{}, fmt.Errorf("store: count by state: %w", err)
	}
	defer rows.Close()

	var counts models.StateCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return models.StateCounts{}, fmt.Errorf("store: count by state: %w", err)
		}
		switch models.State(state) {
		case models.StatePending:
			counts.Pending = n
		case models.StateProcessing:
			counts.Processing = n
		case models.StateCompleted:
			counts.Completed = n
		case models.StateFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// RecentFailures returns up to limit of the most recently failed items.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]models.FailureSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, original_title, `+s.errorMessageSelectExpr()+`, updated_at FROM topic_queue WHERE state = 'failed' ORDER BY updated_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent failures: %w", err)
	}
	defer rows.Close()

	var out []models.FailureSummary
	for rows.Next() {
		var f models.FailureSummary
		var updatedAt string
		if err := rows.Scan(&f.ID, &f.OriginalTitle, &f.ErrorMessage, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: recent failures: %w", err)
		}
		f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListTopics returns a page of QueueItems, optionally filtered by state.
func (s *Store) ListTopics(ctx context.Context, state models.State, page, pageSize int) ([]models.QueueItem, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + s.queueSelectColumns() + ` FROM topic_queue`
	args := []any{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	defer rows.Close()

	var out []models.QueueItem
	for rows.Next() {
		item, err := rowToItem(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list topics: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// CacheGet reads a fingerprint cache entry. ok is false when no row exists.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM fingerprint_cache WHERE key = ?`, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: cache get: %w", err)
	}
	return value, true, nil
}

// CachePut upserts a fingerprint cache entry.
func (s *Store) CachePut(ctx context.Context, key string, value []byte) error {
	err := s.withImmediate(ctx, func(t *tx) error {
		_, err := t.ExecContext(
			`INSERT INTO fingerprint_cache (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, nowRFC3339(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: cache put: %w", err)
	}
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
