package realtime

import (
	"context"

	"github.com/bookflow/bookflow/pkg/bookflow/booking"
	"github.com/bookflow/bookflow/pkg/bookflow/event"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
)

// BookingResolver resolves the affected users of a booking event: the
// organizer, every participant, and any assigned team members. The user set
// is read from the aggregate's current state, so late subscribers to a
// booking still receive its later events.
func BookingResolver(store eventstore.Store) Resolver {
	return func(ctx context.Context, evt event.DomainEvent) ([]string, error) {
		agg, err := booking.LoadCurrentState(ctx, store, evt.AggregateID)
		if err != nil {
			return nil, err
		}
		users := make([]string, 0, 1+len(agg.Participants)+len(agg.TeamIDs))
		users = append(users, agg.OrganizerID)
		users = append(users, agg.Participants...)
		users = append(users, agg.TeamIDs...)
		return users, nil
	}
}
