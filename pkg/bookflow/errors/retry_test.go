package errors_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
)

func fastRetry(attempts int) bferrors.RetryConfig {
	return bferrors.NewRetryConfig(
		bferrors.WithMaxAttempts(attempts),
		bferrors.WithInitialBackoff(time.Millisecond),
		bferrors.WithMaxBackoff(5*time.Millisecond),
		bferrors.WithJitter(0),
	)
}

func TestWithRetry(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		res := bferrors.WithRetry(fastRetry(3), func() (string, error) {
			calls++
			return "ok", nil
		})
		require.NoError(t, res.Err)
		assert.Equal(t, "ok", res.Value)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient errors are retried until success", func(t *testing.T) {
		calls := 0
		res := bferrors.WithRetry(fastRetry(5), func() (int, error) {
			calls++
			if calls < 3 {
				return 0, &bferrors.ExternalServiceError{Service: "payment", StatusCode: 503}
			}
			return 42, nil
		})
		require.NoError(t, res.Err)
		assert.Equal(t, 42, res.Value)
		assert.Equal(t, 3, res.Attempts)
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		calls := 0
		res := bferrors.WithRetry(fastRetry(5), func() (int, error) {
			calls++
			return 0, &bferrors.ValidationError{Field: "id", Message: "required"}
		})
		require.Error(t, res.Err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, res.Attempts)
	})

	t.Run("retry budget is exhausted", func(t *testing.T) {
		calls := 0
		res := bferrors.WithRetry(fastRetry(3), func() (int, error) {
			calls++
			return 0, &bferrors.TimeoutError{Operation: "check", Duration: "1ms"}
		})
		require.Error(t, res.Err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, res.Attempts)
		assert.Contains(t, res.Err.Error(), "max retries exceeded")
	})

	t.Run("custom retryable func overrides categorization", func(t *testing.T) {
		sentinel := stderrors.New("try again")
		cfg := bferrors.NewRetryConfig(
			bferrors.WithMaxAttempts(3),
			bferrors.WithInitialBackoff(time.Millisecond),
			bferrors.WithJitter(0),
			bferrors.WithRetryableFunc(func(err error) bool {
				return stderrors.Is(err, sentinel)
			}),
		)
		calls := 0
		res := bferrors.WithRetry(cfg, func() (int, error) {
			calls++
			if calls < 2 {
				return 0, sentinel
			}
			return 7, nil
		})
		require.NoError(t, res.Err)
		assert.Equal(t, 2, calls)
	})
}

func TestWithRetryContext(t *testing.T) {
	t.Run("cancelled before the first attempt", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		res := bferrors.WithRetryContext(ctx, fastRetry(3), func(context.Context) (int, error) {
			calls++
			return 0, nil
		})
		require.Error(t, res.Err)
		assert.Equal(t, 0, calls)
		assert.Equal(t, 0, res.Attempts)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		cfg := bferrors.NewRetryConfig(
			bferrors.WithMaxAttempts(5),
			bferrors.WithInitialBackoff(time.Hour),
			bferrors.WithJitter(0),
		)
		ctx, cancel := context.WithCancel(context.Background())

		calls := 0
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		res := bferrors.WithRetryContext(ctx, cfg, func(context.Context) (int, error) {
			calls++
			return 0, &bferrors.TimeoutError{Operation: "slow", Duration: "1ms"}
		})
		require.Error(t, res.Err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})
}

func TestNoRetry(t *testing.T) {
	calls := 0
	res := bferrors.WithRetry(bferrors.NoRetry, func() (int, error) {
		calls++
		return 0, &bferrors.TimeoutError{Operation: "x", Duration: "1ms"}
	})
	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
}
