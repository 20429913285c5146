package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
)

// ErrNotFound indicates a booking with no events in the store.
var ErrNotFound = errors.New("booking not found")

// Repository loads and saves booking aggregates against an event store.
type Repository struct {
	store eventstore.Store
}

// NewRepository creates a repository over the given store.
func NewRepository(store eventstore.Store) *Repository {
	return &Repository{store: store}
}

// Load rebuilds the aggregate's current state by replaying its event log.
func (r *Repository) Load(ctx context.Context, bookingID string) (*Aggregate, error) {
	cursor := r.store.Load(ctx, bookingID)
	agg := &Aggregate{}
	for {
		evt, ok, err := cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("load booking %s: %w", bookingID, err)
		}
		if !ok {
			break
		}
		if err := agg.Apply(evt); err != nil {
			return nil, fmt.Errorf("replay booking %s: %w", bookingID, err)
		}
	}
	if agg.Version == 0 {
		return nil, fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	return agg, nil
}

// Save appends an unpersisted event at the aggregate's current version and
// folds the stored event back into the aggregate. A concurrent write to the
// same booking surfaces as eventstore.ErrConcurrencyConflict and leaves the
// aggregate unchanged.
func (r *Repository) Save(ctx context.Context, agg *Aggregate, evt event.DomainEvent) (event.DomainEvent, error) {
	stored, err := r.store.Append(ctx, evt, agg.Version)
	if err != nil {
		return event.DomainEvent{}, err
	}
	if err := agg.Apply(stored); err != nil {
		return event.DomainEvent{}, fmt.Errorf("fold stored event: %w", err)
	}
	return stored, nil
}

// LoadCurrentState is a convenience for read-only callers that do not hold a
// repository.
func LoadCurrentState(ctx context.Context, store eventstore.Store, bookingID string) (*Aggregate, error) {
	return NewRepository(store).Load(ctx, bookingID)
}
