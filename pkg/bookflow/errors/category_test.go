package errors_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bferrors "github.com/bookflow/bookflow/pkg/bookflow/errors"
)

func TestCategorize(t *testing.T) {
	t.Run("nil error is permanent", func(t *testing.T) {
		assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(nil))
	})

	t.Run("categorized error keeps its category", func(t *testing.T) {
		err := bferrors.Transient(stderrors.New("boom"), "calling payment")
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(err))

		err = bferrors.Permanent(stderrors.New("boom"), "bad input")
		assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(err))
	})

	t.Run("rate limit is transient", func(t *testing.T) {
		err := &bferrors.ExternalServiceError{Service: "payment", StatusCode: 429}
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(err))
	})

	t.Run("server errors are transient", func(t *testing.T) {
		for _, code := range []int{500, 502, 503} {
			err := &bferrors.ExternalServiceError{Service: "calendar", StatusCode: code}
			assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(err), "status %d", code)
		}
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		for _, code := range []int{400, 402, 404, 422} {
			err := &bferrors.ExternalServiceError{Service: "payment", StatusCode: code}
			assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(err), "status %d", code)
		}
	})

	t.Run("wrapped external error is found", func(t *testing.T) {
		inner := &bferrors.ExternalServiceError{Service: "payment", StatusCode: 503}
		wrapped := wrapErr("confirm payment", inner)
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(wrapped))
	})

	t.Run("timeouts are transient", func(t *testing.T) {
		err := &bferrors.TimeoutError{Operation: "check availability", Duration: "1s"}
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(err))
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(context.DeadlineExceeded))
	})

	t.Run("explicit cancel is permanent", func(t *testing.T) {
		assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(context.Canceled))
	})

	t.Run("open circuit breaker is transient", func(t *testing.T) {
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(gobreaker.ErrOpenState))
		assert.Equal(t, bferrors.CategoryTransient, bferrors.Categorize(gobreaker.ErrTooManyRequests))
	})

	t.Run("validation errors are permanent", func(t *testing.T) {
		err := &bferrors.ValidationError{Field: "end_time", Message: "must be after start"}
		assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(err))
	})

	t.Run("unknown errors are permanent", func(t *testing.T) {
		assert.Equal(t, bferrors.CategoryPermanent, bferrors.Categorize(stderrors.New("mystery")))
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, bferrors.IsRetryable(&bferrors.ExternalServiceError{StatusCode: 503}))
	assert.False(t, bferrors.IsRetryable(&bferrors.ValidationError{Field: "id"}))
}

func TestCategorizedError_Unwrap(t *testing.T) {
	inner := stderrors.New("root cause")
	err := bferrors.Transient(inner, "step")
	require.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "root cause")
	assert.Contains(t, err.Error(), "transient")
}

func wrapErr(msg string, err error) error {
	return &wrappedError{msg: msg, err: err}
}

type wrappedError struct {
	msg string
	err error
}

func (w *wrappedError) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrappedError) Unwrap() error { return w.err }
