package booking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookflow/bookflow/pkg/bookflow/booking"
	"github.com/bookflow/bookflow/pkg/bookflow/eventstore"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("save assigns versions and load rebuilds state", func(t *testing.T) {
		store := eventstore.NewMemoryStore()
		repo := booking.NewRepository(store)

		agg := &booking.Aggregate{}
		evt, err := booking.Create(createParams())
		require.NoError(t, err)
		stored, err := repo.Save(ctx, agg, evt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.Equal(t, int64(1), agg.Version)

		evt, err = agg.Submit(false)
		require.NoError(t, err)
		_, err = repo.Save(ctx, agg, evt)
		require.NoError(t, err)

		loaded, err := repo.Load(ctx, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, agg, loaded)
		assert.Equal(t, booking.StatusConfirmed, loaded.Status)
	})

	t.Run("load of unknown booking returns ErrNotFound", func(t *testing.T) {
		repo := booking.NewRepository(eventstore.NewMemoryStore())
		_, err := repo.Load(ctx, "missing")
		assert.ErrorIs(t, err, booking.ErrNotFound)
	})

	t.Run("stale aggregate cannot save", func(t *testing.T) {
		store := eventstore.NewMemoryStore()
		repo := booking.NewRepository(store)

		agg := &booking.Aggregate{}
		created, err := booking.Create(createParams())
		require.NoError(t, err)
		_, err = repo.Save(ctx, agg, created)
		require.NoError(t, err)

		// Two readers load the same version; the second save loses.
		first, err := repo.Load(ctx, "bk-1")
		require.NoError(t, err)
		second, err := repo.Load(ctx, "bk-1")
		require.NoError(t, err)

		evt, err := first.Submit(false)
		require.NoError(t, err)
		_, err = repo.Save(ctx, first, evt)
		require.NoError(t, err)

		evt, err = second.Submit(true)
		require.NoError(t, err)
		_, err = repo.Save(ctx, second, evt)
		require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)

		// The loser is untouched and can reload to proceed.
		assert.Equal(t, int64(1), second.Version)
		reloaded, err := repo.Load(ctx, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, booking.StatusConfirmed, reloaded.Status)
	})

	t.Run("load current state convenience", func(t *testing.T) {
		store := eventstore.NewMemoryStore()
		repo := booking.NewRepository(store)

		agg := &booking.Aggregate{}
		created, err := booking.Create(createParams())
		require.NoError(t, err)
		_, err = repo.Save(ctx, agg, created)
		require.NoError(t, err)

		current, err := booking.LoadCurrentState(ctx, store, "bk-1")
		require.NoError(t, err)
		assert.Equal(t, booking.StatusDraft, current.Status)
	})
}
