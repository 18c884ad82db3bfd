// Package sqlite is the durable Store implementation backing the topic
// ingestion queue, the cleaned Topic table, and the fingerprint cache. It
// opens a single WAL-mode database file shared by the HTTP intake layer and
// the Worker Pool.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// busyRetrySchedule is the exponential backoff applied on top of the
// engine's own busy_timeout when a writer transaction still collides with
// another writer (BEGIN IMMEDIATE returning SQLITE_BUSY). Five attempts sum
// to roughly 3.1s of extra wait budget.
var busyRetrySchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

// ErrSchemaLegacyReadOnly is returned by every topic_queue write operation
// when Open detected a one-column legacy layout (predating current_title/
// error_message). Legacy stores remain readable; writers must migrate the
// database before they can enqueue, claim, or resolve work against it.
var ErrSchemaLegacyReadOnly = errors.New("store: legacy schema is read-only")

// ErrBusyExhausted is returned when a writer transaction still collides
// with another writer (SQLITE_BUSY) after busyRetrySchedule's final
// attempt. The wrapped error carries the engine's own message.
var ErrBusyExhausted = errors.New("store: busy retries exhausted")

// Store implements interfaces.Store over a single modernc.org/sqlite
// database file. All writers (including CachePut) serialize through BEGIN IMMEDIATE transactions
// and a single *sql.DB connection pool capped at one open connection, per
// SQLite's one-writer-at-a-time model.
type Store struct {
	db     *sql.DB
	logger *common.Logger
	legacy bool // true when topic_queue predates current_title/error_message
}

// Open opens (or creates) the database at path, applies WAL journaling and
// the busy_timeout pragma, runs schema detection/migration, and returns a
// ready Store.
func Open(path string, busyTimeout time.Duration, logger *common.Logger) (*Store, error) {
	dsn := connString(path, busyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// SQLite permits a single writer; limiting the pool to one connection
	// means every write serializes through this handle instead of racing
	// across pooled connections, which busy_timeout alone does not prevent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous: %w", err)
	}

	s := &Store{db: db, logger: logger}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return s, nil
}

// connString builds a modernc.org/sqlite DSN carrying the busy_timeout
// pragma, mirroring the _pragma=busy_timeout(ms) query-parameter convention
// used by the engine's own connection-string parser.
func connString(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}
	ms := busyTimeout.Milliseconds()
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, ms)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, ms)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS topic_queue (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    original_title TEXT    NOT NULL,
    current_title  TEXT    NOT NULL DEFAULT '',
    state          TEXT    NOT NULL DEFAULT 'pending',
    error_message  TEXT    NOT NULL DEFAULT '',
    created_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_topic_queue_state_created
    ON topic_queue (state, created_at);
CREATE INDEX IF NOT EXISTS idx_topic_queue_original_title
    ON topic_queue (original_title);

CREATE TABLE IF NOT EXISTS topics (
    id                INTEGER PRIMARY KEY,
    title             TEXT    NOT NULL,
    description       TEXT    NOT NULL DEFAULT '',
    category          TEXT    NOT NULL DEFAULT '',
    tags              TEXT    NOT NULL DEFAULT '[]',
    technologies      TEXT    NOT NULL DEFAULT '[]',
    complexity_level  TEXT    NOT NULL DEFAULT '',
    topic_status_id   INTEGER NOT NULL,
    created_at        TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    FOREIGN KEY (topic_status_id) REFERENCES topic_queue(id)
);

CREATE TABLE IF NOT EXISTS fingerprint_cache (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// migrate applies the current schema (a no-op against an existing table via
// CREATE TABLE IF NOT EXISTS) and detects a legacy single-column layout left
// by an older release (a topic_queue table predating the current_title/
// error_message columns). A legacy table is left untouched and the Store
// runs read-only against topic_queue: every write operation returns
// ErrSchemaLegacyReadOnly, while reads synthesize the missing columns as
// empty strings so LookupByTitle/ListTopics/CountByState/RecentFailures
// keep working.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	legacy, err := s.hasLegacyLayout(ctx)
	if err != nil {
		return fmt.Errorf("detect legacy layout: %w", err)
	}
	s.legacy = legacy
	if legacy {
		s.logger.Warn().Msg("topic_queue table predates current_title/error_message columns; running read-only, writes rejected until migrated")
	}
	return nil
}

// hasLegacyLayout inspects topic_queue's columns via PRAGMA table_info and
// reports whether the current_title column is missing, the signal this
// version uses to detect a database created by a schema-incompatible
// earlier release.
func (s *Store) hasLegacyLayout(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(topic_queue)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	dest := make([]any, len(cols))
	scratch := make([]sql.RawBytes, len(cols))
	for i := range dest {
		dest[i] = &scratch[i]
	}

	found := false
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return false, err
		}
		for i, c := range cols {
			if c == "name" && string(scratch[i]) == "current_title" {
				found = true
			}
		}
	}
	return !found, rows.Err()
}

// tx is a single BEGIN IMMEDIATE transaction pinned to one *sql.Conn.
// database/sql has no option to request an IMMEDIATE lock through
// *sql.Tx, so the lock is acquired with a raw statement on a checked-out
// connection and every subsequent statement in the transaction runs on
// that same connection.
type tx struct {
	conn *sql.Conn
	ctx  context.Context
}

func (t *tx) ExecContext(query string, args ...any) (sql.Result, error) {
	return t.conn.ExecContext(t.ctx, query, args...)
}

func (t *tx) QueryContext(query string, args ...any) (*sql.Rows, error) {
	return t.conn.QueryContext(t.ctx, query, args...)
}

func (t *tx) QueryRowContext(query string, args ...any) *sql.Row {
	return t.conn.QueryRowContext(t.ctx, query, args...)
}

// withImmediate runs fn inside a BEGIN IMMEDIATE transaction, retrying on
// SQLITE_BUSY with exponential backoff. BEGIN IMMEDIATE acquires the write
// lock up front instead of on first write, which avoids a class of
// deadlocks where two transactions both start as readers and then race to
// upgrade.
func (s *Store) withImmediate(ctx context.Context, fn func(t *tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.tryImmediate(ctx, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt >= len(busyRetrySchedule) {
			return fmt.Errorf("%w: %v", ErrBusyExhausted, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyRetrySchedule[attempt]):
		}
	}
}

func (s *Store) tryImmediate(ctx context.Context, fn func(t *tx) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecContext(ctx, `ROLLBACK`)
			panic(p)
		}
	}()

	t := &tx{conn: conn, ctx: ctx}
	if err = fn(t); err != nil {
		_, rbErr := conn.ExecContext(ctx, `ROLLBACK`)
		if rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if _, err = conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// isBusy reports whether err represents SQLITE_BUSY, including the case
// where busy_timeout's own wait has already been exhausted by the engine.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ interfaces.Store = (*Store)(nil)

// rowToItem scans a single topic_queue row into a models.QueueItem.
func rowToItem(row interface{ Scan(...any) error }) (models.QueueItem, error) {
	var item models.QueueItem
	var createdAt, updatedAt string
	err := row.Scan(&item.ID, &item.OriginalTitle, &item.CurrentTitle, &item.State, &item.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		return models.QueueItem{}, err
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return item, nil
}
