// Package eventstore provides durable, append-only per-aggregate event logs.
//
// The store is the source of truth: aggregates are disposable projections
// rebuilt by replaying a log. Appends are version-checked (optimistic
// concurrency) and serialized per aggregate.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// Store persists domain events. Implementations must be safe for concurrent
// use and must serialize appends to the same aggregate.
type Store interface {
	// Append persists an event iff expectedVersion equals the aggregate's
	// current head version. The stored event is returned with its assigned
	// version (expectedVersion + 1). A stale expectedVersion fails with
	// ErrConcurrencyConflict and never overwrites the log.
	Append(ctx context.Context, evt event.DomainEvent, expectedVersion int64) (event.DomainEvent, error)

	// Load returns a lazy, restartable cursor over the aggregate's events in
	// ascending version order. An unknown aggregate yields an empty cursor.
	Load(ctx context.Context, aggregateID string) *Cursor

	// Head returns the aggregate's current version, 0 if it has no events.
	Head(ctx context.Context, aggregateID string) (int64, error)

	// LoadAll returns events across all aggregates in global append order,
	// for audit and read-model projection. afterSeq of 0 starts at the
	// beginning.
	LoadAll(ctx context.Context, afterSeq int64, limit int) ([]StoredEvent, error)

	// Close releases any resources (connections, files).
	Close() error
}

// StoredEvent pairs an event with its position in the global log.
type StoredEvent struct {
	GlobalSeq int64
	Event     event.DomainEvent
}

// Sentinel errors for store operations.
var (
	// ErrConcurrencyConflict indicates a stale expectedVersion. The caller
	// must reload current state and resubmit.
	ErrConcurrencyConflict = errors.New("concurrency conflict: stale expected version")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("event store closed")
)

// ConflictError carries the versions involved in a concurrency conflict.
// It unwraps to ErrConcurrencyConflict.
type ConflictError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("aggregate %s: expected version %d, head is %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Unwrap returns ErrConcurrencyConflict so errors.Is works.
func (e *ConflictError) Unwrap() error {
	return ErrConcurrencyConflict
}

// defaultPageSize is how many events a cursor fetches per page.
const defaultPageSize = 200

// fetchPage loads up to limit events with version > after, ascending.
type fetchPage func(ctx context.Context, after int64, limit int) ([]event.DomainEvent, error)

// Cursor is a lazy iterator over an aggregate's events in ascending version
// order. It pages from the backing store on demand and can be restarted with
// Rewind.
type Cursor struct {
	fetch    fetchPage
	pageSize int

	buf   []event.DomainEvent
	idx   int
	after int64
	done  bool
}

func newCursor(fetch fetchPage) *Cursor {
	return &Cursor{fetch: fetch, pageSize: defaultPageSize}
}

// Next returns the next event. ok is false when the sequence is exhausted.
func (c *Cursor) Next(ctx context.Context) (event.DomainEvent, bool, error) {
	if c.idx >= len(c.buf) {
		if c.done {
			return event.DomainEvent{}, false, nil
		}
		page, err := c.fetch(ctx, c.after, c.pageSize)
		if err != nil {
			return event.DomainEvent{}, false, err
		}
		if len(page) == 0 {
			c.done = true
			return event.DomainEvent{}, false, nil
		}
		if len(page) < c.pageSize {
			c.done = true
		}
		c.buf = page
		c.idx = 0
		c.after = page[len(page)-1].Version
	}

	evt := c.buf[c.idx]
	c.idx++
	return evt, true, nil
}

// Rewind restarts the cursor from the first event.
func (c *Cursor) Rewind() {
	c.buf = nil
	c.idx = 0
	c.after = 0
	c.done = false
}

// Collect drains the cursor into a slice.
func (c *Cursor) Collect(ctx context.Context) ([]event.DomainEvent, error) {
	var events []event.DomainEvent
	for {
		evt, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return events, nil
		}
		events = append(events, evt)
	}
}
