package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookflow/bookflow/pkg/bookflow/booking"
	"github.com/bookflow/bookflow/pkg/bookflow/event"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
	"github.com/bookflow/bookflow/pkg/bookflow/realtime"
)

func bookingEvent(t *testing.T, bookingID string) event.DomainEvent {
	t.Helper()
	evt, err := booking.Create(booking.CreateParams{
		BookingID:    bookingID,
		OrganizerID:  "user-1",
		TeamIDs:      []string{"team-1"},
		StartTime:    time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC),
		Participants: []string{"user-2"},
	})
	require.NoError(t, err)
	evt.Version = 1
	return evt
}

// staticResolver returns a fixed user set.
func staticResolver(users ...string) realtime.Resolver {
	return func(context.Context, event.DomainEvent) ([]string, error) {
		return users, nil
	}
}

func receive(t *testing.T, conn *realtime.ChanConn) realtime.Update {
	t.Helper()
	select {
	case u := <-conn.Updates():
		return u
	default:
		t.Fatal("expected a pushed update")
		return realtime.Update{}
	}
}

func TestHub_HandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes to every affected user's connections", func(t *testing.T) {
		hub := realtime.NewHub()
		hub.RegisterResolver(event.AggregateBooking, staticResolver("user-1", "user-2"))

		organizer := realtime.NewChanConn("user-1")
		participant := realtime.NewChanConn("user-2")
		outsider := realtime.NewChanConn("user-9")
		hub.Attach(organizer)
		hub.Attach(participant)
		hub.Attach(outsider)

		evt := bookingEvent(t, "bk-1")
		require.NoError(t, hub.HandleEvent(ctx, evt))

		got := receive(t, organizer)
		assert.Equal(t, evt.ID, got.EventID)
		assert.Equal(t, "bk-1", got.AggregateID)
		assert.Equal(t, int64(1), got.Version)

		receive(t, participant)
		assert.Empty(t, outsider.Updates())
	})

	t.Run("duplicate users receive one update", func(t *testing.T) {
		hub := realtime.NewHub()
		hub.RegisterResolver(event.AggregateBooking, staticResolver("user-1", "user-1"))

		conn := realtime.NewChanConn("user-1")
		hub.Attach(conn)

		require.NoError(t, hub.HandleEvent(ctx, bookingEvent(t, "bk-1")))
		assert.Len(t, conn.Updates(), 1)
	})

	t.Run("aggregate types without a resolver are skipped", func(t *testing.T) {
		hub := realtime.NewHub()
		conn := realtime.NewChanConn("user-1")
		hub.Attach(conn)

		require.NoError(t, hub.HandleEvent(ctx, bookingEvent(t, "bk-1")))
		assert.Empty(t, conn.Updates())
	})

	t.Run("resolver failure propagates", func(t *testing.T) {
		hub := realtime.NewHub()
		hub.RegisterResolver(event.AggregateBooking,
			func(context.Context, event.DomainEvent) ([]string, error) {
				return nil, errors.New("directory down")
			})

		err := hub.HandleEvent(ctx, bookingEvent(t, "bk-1"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolve affected users")
	})

	t.Run("full connection buffer never fails the handler", func(t *testing.T) {
		hub := realtime.NewHub()
		hub.RegisterResolver(event.AggregateBooking, staticResolver("user-1"))

		conn := realtime.NewChanConnSize("user-1", 1)
		hub.Attach(conn)

		require.NoError(t, hub.HandleEvent(ctx, bookingEvent(t, "bk-1")))
		require.NoError(t, hub.HandleEvent(ctx, bookingEvent(t, "bk-1")))
		// Only the first push fit; the second was dropped.
		assert.Len(t, conn.Updates(), 1)
	})

	t.Run("detached connections stop receiving", func(t *testing.T) {
		hub := realtime.NewHub()
		hub.RegisterResolver(event.AggregateBooking, staticResolver("user-1"))

		conn := realtime.NewChanConn("user-1")
		detach := hub.Attach(conn)
		assert.Equal(t, 1, hub.ConnCount("user-1"))

		detach()
		assert.Zero(t, hub.ConnCount("user-1"))

		require.NoError(t, hub.HandleEvent(ctx, bookingEvent(t, "bk-1")))
		assert.Empty(t, conn.Updates())
	})
}

func TestHub_SubscribeAll(t *testing.T) {
	reports := make(chan event.DispatchReport, 1)
	registry := booking.NewRegistry()
	bus, err := event.NewBus(event.BusConfig{
		Registry:   registry,
		OnDispatch: func(r event.DispatchReport) { reports <- r },
	})
	require.NoError(t, err)
	defer bus.Close()

	store := eventstore.NewMemoryStore()
	hub := realtime.NewHub()
	hub.RegisterResolver(event.AggregateBooking, realtime.BookingResolver(store))

	organizer := realtime.NewChanConn("user-1")
	team := realtime.NewChanConn("team-1")
	hub.Attach(organizer)
	hub.Attach(team)

	sub := hub.SubscribeAll(bus)
	assert.Equal(t, "realtime-distributor", sub.HandlerID())

	stored, err := store.Append(context.Background(), bookingEvent(t, "bk-1"), 0)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), stored))

	select {
	case r := <-reports:
		require.Empty(t, r.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	// Organizer and team members resolved from current aggregate state.
	got := receive(t, organizer)
	assert.Equal(t, stored.ID, got.EventID)
	receive(t, team)
}

func TestChanConn(t *testing.T) {
	t.Run("send after close fails", func(t *testing.T) {
		conn := realtime.NewChanConn("user-1")
		require.NoError(t, conn.Close())
		assert.ErrorIs(t, conn.Send(realtime.Update{}), realtime.ErrConnClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		conn := realtime.NewChanConn("user-1")
		require.NoError(t, conn.Close())
		assert.NoError(t, conn.Close())
	})

	t.Run("full buffer drops with ErrBufferFull", func(t *testing.T) {
		conn := realtime.NewChanConnSize("user-1", 1)
		require.NoError(t, conn.Send(realtime.Update{EventID: "e1"}))
		assert.ErrorIs(t, conn.Send(realtime.Update{EventID: "e2"}), realtime.ErrBufferFull)

		got := <-conn.Updates()
		assert.Equal(t, "e1", got.EventID)
	})
}
