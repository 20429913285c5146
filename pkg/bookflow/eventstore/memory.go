package eventstore

import (
	"context"
	"sync"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
// Events live only as long as the process.
type MemoryStore struct {
	mu     sync.RWMutex
	logs   map[string][]event.DomainEvent
	global []StoredEvent
	closed bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs: make(map[string][]event.DomainEvent),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, evt event.DomainEvent, expectedVersion int64) (event.DomainEvent, error) {
	if err := ctx.Err(); err != nil {
		return event.DomainEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return event.DomainEvent{}, ErrStoreClosed
	}

	log := s.logs[evt.AggregateID]
	head := int64(len(log))
	if head != expectedVersion {
		return event.DomainEvent{}, &ConflictError{
			AggregateID:     evt.AggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   head,
		}
	}

	evt.Version = expectedVersion + 1
	s.logs[evt.AggregateID] = append(log, evt)
	s.global = append(s.global, StoredEvent{
		GlobalSeq: int64(len(s.global)) + 1,
		Event:     evt,
	})
	return evt, nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, aggregateID string) *Cursor {
	return newCursor(func(ctx context.Context, after int64, limit int) ([]event.DomainEvent, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		defer s.mu.RUnlock()

		if s.closed {
			return nil, ErrStoreClosed
		}

		log := s.logs[aggregateID]
		if after >= int64(len(log)) {
			return nil, nil
		}
		page := log[after:]
		if len(page) > limit {
			page = page[:limit]
		}
		out := make([]event.DomainEvent, len(page))
		copy(out, page)
		return out, nil
	})
}

// Head implements Store.
func (s *MemoryStore) Head(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(s.logs[aggregateID])), nil
}

// LoadAll implements Store.
func (s *MemoryStore) LoadAll(ctx context.Context, afterSeq int64, limit int) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if afterSeq >= int64(len(s.global)) {
		return nil, nil
	}
	page := s.global[afterSeq:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	out := make([]StoredEvent, len(page))
	copy(out, page)
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
