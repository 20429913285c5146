package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteDLQ persists dead-letter entries to SQLite so they survive restarts.
type SQLiteDLQ struct {
	db *sql.DB
}

// NewSQLiteDLQ creates a SQLite-backed dead-letter queue.
// The path should be a file path (e.g., "./deadletters.db") or ":memory:" for testing.
func NewSQLiteDLQ(path string) (*SQLiteDLQ, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			event_id TEXT NOT NULL,
			handler_id TEXT NOT NULL,
			event_json BLOB NOT NULL,
			error TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			first_failed_at TEXT NOT NULL,
			last_failed_at TEXT NOT NULL,
			next_retry_at TEXT,
			PRIMARY KEY (event_id, handler_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_handler
		ON dead_letters(handler_id)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteDLQ{db: db}, nil
}

// Enqueue implements DeadLetterQueue.
func (d *SQLiteDLQ) Enqueue(ctx context.Context, entry *DeadLetterEntry) error {
	eventJSON, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	nextRetry := ""
	if !entry.NextRetryAt.IsZero() {
		nextRetry = entry.NextRetryAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO dead_letters (event_id, handler_id, event_json, error, attempts, first_failed_at, last_failed_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, handler_id) DO UPDATE SET
			error = excluded.error,
			attempts = excluded.attempts,
			last_failed_at = excluded.last_failed_at,
			next_retry_at = excluded.next_retry_at
	`,
		entry.Event.ID,
		entry.HandlerID,
		eventJSON,
		entry.Error,
		entry.Attempts,
		entry.FirstFailedAt.UTC().Format(time.RFC3339Nano),
		entry.LastFailedAt.UTC().Format(time.RFC3339Nano),
		nextRetry,
	)
	if err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}
	return nil
}

// List implements DeadLetterQueue.
func (d *SQLiteDLQ) List(ctx context.Context, limit int) ([]*DeadLetterEntry, error) {
	return d.query(ctx, `
		SELECT event_json, handler_id, error, attempts, first_failed_at, last_failed_at, next_retry_at
		FROM dead_letters ORDER BY first_failed_at LIMIT ?
	`, normalizeLimit(limit))
}

// ListByHandler implements DeadLetterQueue.
func (d *SQLiteDLQ) ListByHandler(ctx context.Context, handlerID string, limit int) ([]*DeadLetterEntry, error) {
	return d.query(ctx, `
		SELECT event_json, handler_id, error, attempts, first_failed_at, last_failed_at, next_retry_at
		FROM dead_letters WHERE handler_id = ? ORDER BY first_failed_at LIMIT ?
	`, handlerID, normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return -1 // SQLite: no limit
	}
	return limit
}

func (d *SQLiteDLQ) query(ctx context.Context, q string, args ...any) ([]*DeadLetterEntry, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var entries []*DeadLetterEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*DeadLetterEntry, error) {
	var (
		eventJSON   []byte
		entry       DeadLetterEntry
		firstFailed string
		lastFailed  string
		nextRetry   string
	)
	if err := row.Scan(&eventJSON, &entry.HandlerID, &entry.Error, &entry.Attempts,
		&firstFailed, &lastFailed, &nextRetry); err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	if err := json.Unmarshal(eventJSON, &entry.Event); err != nil {
		return nil, fmt.Errorf("unmarshal dead-lettered event: %w", err)
	}
	entry.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, firstFailed)
	entry.LastFailedAt, _ = time.Parse(time.RFC3339Nano, lastFailed)
	if nextRetry != "" {
		entry.NextRetryAt, _ = time.Parse(time.RFC3339Nano, nextRetry)
	}
	return &entry, nil
}

// Get implements DeadLetterQueue.
func (d *SQLiteDLQ) Get(ctx context.Context, eventID, handlerID string) (*DeadLetterEntry, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT event_json, handler_id, error, attempts, first_failed_at, last_failed_at, next_retry_at
		FROM dead_letters WHERE event_id = ? AND handler_id = ?
	`, eventID, handlerID)

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Delete implements DeadLetterQueue.
func (d *SQLiteDLQ) Delete(ctx context.Context, eventID, handlerID string) error {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM dead_letters WHERE event_id = ? AND handler_id = ?
	`, eventID, handlerID)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Count implements DeadLetterQueue.
func (d *SQLiteDLQ) Count(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letters").Scan(&count); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}

// Close releases the underlying database handle.
func (d *SQLiteDLQ) Close() error {
	return d.db.Close()
}

// Compile-time check that SQLiteDLQ implements DeadLetterQueue.
var _ DeadLetterQueue = (*SQLiteDLQ)(nil)
