package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// SQLiteStore persists events to SQLite. It is suitable for single-process
// production use. The UNIQUE(aggregate_id, version) constraint is the
// concurrency guard: two writers racing on the same expected version cannot
// both commit.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) an event store at path.
// Use ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			global_seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			payload BLOB,
			metadata TEXT NOT NULL,
			recorded_at TEXT NOT NULL,
			UNIQUE (aggregate_id, version)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_aggregate
		ON events(aggregate_id, version)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, evt event.DomainEvent, expectedVersion int64) (event.DomainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return event.DomainEvent{}, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.DomainEvent{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var head int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		evt.AggregateID,
	).Scan(&head); err != nil {
		return event.DomainEvent{}, fmt.Errorf("read head version: %w", err)
	}

	if head != expectedVersion {
		return event.DomainEvent{}, &ConflictError{
			AggregateID:     evt.AggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   head,
		}
	}

	evt.Version = expectedVersion + 1

	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return event.DomainEvent{}, fmt.Errorf("marshal metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, aggregate_id, aggregate_type, version, payload, metadata, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID, string(evt.Type), evt.AggregateID, evt.AggregateType,
		evt.Version, evt.Payload, string(meta), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		if isConstraintError(err) {
			// A concurrent writer claimed this version between our head read
			// and the insert.
			return event.DomainEvent{}, &ConflictError{
				AggregateID:     evt.AggregateID,
				ExpectedVersion: expectedVersion,
				ActualVersion:   evt.Version,
			}
		}
		return event.DomainEvent{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.DomainEvent{}, fmt.Errorf("commit: %w", err)
	}
	return evt, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(_ context.Context, aggregateID string) *Cursor {
	return newCursor(func(ctx context.Context, after int64, limit int) ([]event.DomainEvent, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		if s.closed {
			return nil, ErrStoreClosed
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT event_id, event_type, aggregate_id, aggregate_type, version, payload, metadata
			FROM events
			WHERE aggregate_id = ? AND version > ?
			ORDER BY version ASC
			LIMIT ?
		`, aggregateID, after, limit)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		defer rows.Close()

		var page []event.DomainEvent
		for rows.Next() {
			evt, err := scanEvent(rows)
			if err != nil {
				return nil, err
			}
			page = append(page, evt)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate events: %w", err)
		}
		return page, nil
	})
}

// Head implements Store.
func (s *SQLiteStore) Head(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var head int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head version: %w", err)
	}
	return head, nil
}

// LoadAll implements Store.
func (s *SQLiteStore) LoadAll(ctx context.Context, afterSeq int64, limit int) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT global_seq, event_id, event_type, aggregate_id, aggregate_type, version, payload, metadata
		FROM events
		WHERE global_seq > ?
		ORDER BY global_seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			seq      int64
			id       string
			typ      string
			aggID    string
			aggType  string
			version  int64
			payload  []byte
			metaJSON string
		)
		if err := rows.Scan(&seq, &id, &typ, &aggID, &aggType, &version, &payload, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var meta event.Metadata
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, StoredEvent{
			GlobalSeq: seq,
			Event: event.DomainEvent{
				ID:            id,
				Type:          event.Type(typ),
				AggregateID:   aggID,
				AggregateType: aggType,
				Version:       version,
				Payload:       payload,
				Metadata:      meta,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEvent(rows *sql.Rows) (event.DomainEvent, error) {
	var (
		id       string
		typ      string
		aggID    string
		aggType  string
		version  int64
		payload  []byte
		metaJSON string
	)
	if err := rows.Scan(&id, &typ, &aggID, &aggType, &version, &payload, &metaJSON); err != nil {
		return event.DomainEvent{}, fmt.Errorf("scan event: %w", err)
	}
	var meta event.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return event.DomainEvent{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return event.DomainEvent{
		ID:            id,
		Type:          event.Type(typ),
		AggregateID:   aggID,
		AggregateType: aggType,
		Version:       version,
		Payload:       payload,
		Metadata:      meta,
	}, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
