package event

import (
	"context"
	"sort"
	"sync"
)

// dlqKey identifies one failed handler invocation.
type dlqKey struct {
	eventID   string
	handlerID string
}

// InMemoryDLQ is an in-memory DeadLetterQueue.
// Suitable for testing and single-instance deployments.
type InMemoryDLQ struct {
	mu      sync.RWMutex
	entries map[dlqKey]*DeadLetterEntry
	maxSize int
}

// DefaultDLQMaxSize bounds the in-memory queue.
const DefaultDLQMaxSize = 10000

// NewInMemoryDLQ creates a new in-memory dead-letter queue.
func NewInMemoryDLQ() *InMemoryDLQ {
	return NewInMemoryDLQSize(DefaultDLQMaxSize)
}

// NewInMemoryDLQSize creates an in-memory dead-letter queue holding at most
// max entries.
func NewInMemoryDLQSize(max int) *InMemoryDLQ {
	return &InMemoryDLQ{
		entries: make(map[dlqKey]*DeadLetterEntry),
		maxSize: max,
	}
}

// Enqueue adds an entry to the queue. An existing entry for the same
// event/handler pair is replaced with the newer failure.
func (d *InMemoryDLQ) Enqueue(_ context.Context, entry *DeadLetterEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dlqKey{eventID: entry.Event.ID, handlerID: entry.HandlerID}
	if _, exists := d.entries[key]; !exists && len(d.entries) >= d.maxSize {
		return ErrQueueFull
	}

	copied := *entry
	d.entries[key] = &copied
	return nil
}

// List returns entries ordered by first failure time.
func (d *InMemoryDLQ) List(_ context.Context, limit int) ([]*DeadLetterEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collect(limit, func(*DeadLetterEntry) bool { return true }), nil
}

// ListByHandler returns entries for a specific handler id.
func (d *InMemoryDLQ) ListByHandler(_ context.Context, handlerID string, limit int) ([]*DeadLetterEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.collect(limit, func(e *DeadLetterEntry) bool { return e.HandlerID == handlerID }), nil
}

// collect copies matching entries sorted by first failure (must hold lock).
func (d *InMemoryDLQ) collect(limit int, match func(*DeadLetterEntry) bool) []*DeadLetterEntry {
	result := make([]*DeadLetterEntry, 0)
	for _, entry := range d.entries {
		if match(entry) {
			copied := *entry
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FirstFailedAt.Before(result[j].FirstFailedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result
}

// Get retrieves the entry for an event/handler pair.
func (d *InMemoryDLQ) Get(_ context.Context, eventID, handlerID string) (*DeadLetterEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[dlqKey{eventID: eventID, handlerID: handlerID}]
	if !ok {
		return nil, ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

// Delete removes an entry.
func (d *InMemoryDLQ) Delete(_ context.Context, eventID, handlerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dlqKey{eventID: eventID, handlerID: handlerID}
	if _, ok := d.entries[key]; !ok {
		return ErrEntryNotFound
	}
	delete(d.entries, key)
	return nil
}

// Count returns the number of entries in the queue.
func (d *InMemoryDLQ) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries), nil
}

// Compile-time check that InMemoryDLQ implements DeadLetterQueue.
var _ DeadLetterQueue = (*InMemoryDLQ)(nil)
