package eventstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
)

type notePayload struct {
	Note string `json:"note"`
}

func newEvent(t *testing.T, aggregateID, note string) event.DomainEvent {
	t.Helper()
	evt, err := event.New(event.TypeBookingCreated, event.AggregateBooking, aggregateID,
		notePayload{Note: note})
	require.NoError(t, err)
	return evt
}

// appendN writes n events to one aggregate and returns them as stored.
func appendN(t *testing.T, store eventstore.Store, aggregateID string, n int) []event.DomainEvent {
	t.Helper()
	ctx := context.Background()
	stored := make([]event.DomainEvent, 0, n)
	for i := 0; i < n; i++ {
		evt, err := store.Append(ctx, newEvent(t, aggregateID, fmt.Sprintf("note-%d", i)), int64(i))
		require.NoError(t, err)
		stored = append(stored, evt)
	}
	return stored
}

// testStore runs the Store contract against an implementation.
func testStore(t *testing.T, newStore func(t *testing.T) eventstore.Store) {
	ctx := context.Background()

	t.Run("append assigns strictly increasing versions", func(t *testing.T) {
		store := newStore(t)
		stored := appendN(t, store, "bk-1", 3)
		for i, evt := range stored {
			assert.Equal(t, int64(i+1), evt.Version)
			assert.Equal(t, "bk-1", evt.AggregateID)
		}

		head, err := store.Head(ctx, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), head)
	})

	t.Run("stale expected version is rejected", func(t *testing.T) {
		store := newStore(t)
		appendN(t, store, "bk-1", 2)

		_, err := store.Append(ctx, newEvent(t, "bk-1", "stale"), 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

		var conflict *eventstore.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "bk-1", conflict.AggregateID)
		assert.Equal(t, int64(1), conflict.ExpectedVersion)
		assert.Equal(t, int64(2), conflict.ActualVersion)

		// The losing append must not touch the log.
		head, err := store.Head(ctx, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), head)
	})

	t.Run("expected version ahead of head is rejected", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Append(ctx, newEvent(t, "bk-1", "gap"), 5)
		assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	})

	t.Run("head of unknown aggregate is zero", func(t *testing.T) {
		store := newStore(t)
		head, err := store.Head(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, head)
	})

	t.Run("load yields events in ascending version order", func(t *testing.T) {
		store := newStore(t)
		appendN(t, store, "bk-1", 5)
		appendN(t, store, "bk-2", 2)

		events, err := store.Load(ctx, "bk-1").Collect(ctx)
		require.NoError(t, err)
		require.Len(t, events, 5)
		for i, evt := range events {
			assert.Equal(t, int64(i+1), evt.Version)
			assert.Equal(t, "bk-1", evt.AggregateID)
		}
	})

	t.Run("load of unknown aggregate is empty", func(t *testing.T) {
		store := newStore(t)
		events, err := store.Load(ctx, "missing").Collect(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("cursor sees appends made after creation", func(t *testing.T) {
		store := newStore(t)
		cursor := store.Load(ctx, "bk-1")
		appendN(t, store, "bk-1", 2)

		evt, ok, err := cursor.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(1), evt.Version)
	})

	t.Run("rewind restarts the cursor", func(t *testing.T) {
		store := newStore(t)
		appendN(t, store, "bk-1", 3)

		cursor := store.Load(ctx, "bk-1")
		first, err := cursor.Collect(ctx)
		require.NoError(t, err)
		require.Len(t, first, 3)

		cursor.Rewind()
		second, err := cursor.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("load all follows global append order", func(t *testing.T) {
		store := newStore(t)
		a := appendN(t, store, "bk-a", 1)
		b := appendN(t, store, "bk-b", 1)
		a2, err := store.Append(ctx, newEvent(t, "bk-a", "second"), 1)
		require.NoError(t, err)

		all, err := store.LoadAll(ctx, 0, 100)
		require.NoError(t, err)
		require.Len(t, all, 3)

		assert.Equal(t, a[0].ID, all[0].Event.ID)
		assert.Equal(t, b[0].ID, all[1].Event.ID)
		assert.Equal(t, a2.ID, all[2].Event.ID)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i].GlobalSeq, all[i-1].GlobalSeq)
		}
	})

	t.Run("load all resumes after a sequence", func(t *testing.T) {
		store := newStore(t)
		appendN(t, store, "bk-1", 4)

		first, err := store.LoadAll(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)

		rest, err := store.LoadAll(ctx, first[1].GlobalSeq, 100)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, int64(3), rest[0].Event.Version)
	})

	t.Run("payload round-trips", func(t *testing.T) {
		store := newStore(t)
		appendN(t, store, "bk-1", 1)

		events, err := store.Load(ctx, "bk-1").Collect(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)

		decoded, err := event.DecodePayload[notePayload](events[0])
		require.NoError(t, err)
		assert.Equal(t, "note-0", decoded.Note)
	})

	t.Run("closed store rejects appends", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Close())

		_, err := store.Append(ctx, newEvent(t, "bk-1", "late"), 0)
		assert.ErrorIs(t, err, eventstore.ErrStoreClosed)
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) eventstore.Store {
		return eventstore.NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, func(t *testing.T) eventstore.Store {
		store, err := eventstore.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestMemoryStore_ConcurrentAppendsOneWinner(t *testing.T) {
	store := eventstore.NewMemoryStore()
	ctx := context.Background()
	appendN(t, store, "bk-1", 1)

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			_, err := store.Append(ctx, newEvent(t, "bk-1", fmt.Sprintf("racer-%d", i)), 1)
			errs <- err
		}(i)
	}

	var wins, conflicts int
	for i := 0; i < writers; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
			conflicts++
		}
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	head, err := store.Head(ctx, "bk-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)
}
