package external

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds a circuit breaker that trips after a 60% failure ratio
// over at least 5 calls and logs state changes.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// BreakerPayment wraps a PaymentService with a circuit breaker. When the
// breaker is open, calls fail fast with gobreaker.ErrOpenState, which the
// error taxonomy classifies as transient.
type BreakerPayment struct {
	inner PaymentService
	cb    *gobreaker.CircuitBreaker
}

var _ PaymentService = (*BreakerPayment)(nil)

// NewBreakerPayment wraps inner with a circuit breaker named "payment".
func NewBreakerPayment(inner PaymentService, logger *slog.Logger) *BreakerPayment {
	return &BreakerPayment{inner: inner, cb: newBreaker("payment", logger)}
}

func (b *BreakerPayment) execute(fn func() (Payment, error)) (Payment, error) {
	out, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		return Payment{}, err
	}
	return out.(Payment), nil
}

// CreatePayment implements PaymentService.
func (b *BreakerPayment) CreatePayment(ctx context.Context, bookingID string, amountMinor int64, currency string) (Payment, error) {
	return b.execute(func() (Payment, error) {
		return b.inner.CreatePayment(ctx, bookingID, amountMinor, currency)
	})
}

// ConfirmPayment implements PaymentService.
func (b *BreakerPayment) ConfirmPayment(ctx context.Context, paymentID string) (Payment, error) {
	return b.execute(func() (Payment, error) {
		return b.inner.ConfirmPayment(ctx, paymentID)
	})
}

// RefundPayment implements PaymentService.
func (b *BreakerPayment) RefundPayment(ctx context.Context, paymentID string) (Payment, error) {
	return b.execute(func() (Payment, error) {
		return b.inner.RefundPayment(ctx, paymentID)
	})
}

// BreakerCalendar wraps a CalendarAdapter with a circuit breaker.
type BreakerCalendar struct {
	inner CalendarAdapter
	cb    *gobreaker.CircuitBreaker
}

var _ CalendarAdapter = (*BreakerCalendar)(nil)

// NewBreakerCalendar wraps inner with a circuit breaker named "calendar".
func NewBreakerCalendar(inner CalendarAdapter, logger *slog.Logger) *BreakerCalendar {
	return &BreakerCalendar{inner: inner, cb: newBreaker("calendar", logger)}
}

// CreateEvent implements CalendarAdapter.
func (b *BreakerCalendar) CreateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error) {
	out, err := b.cb.Execute(func() (any, error) { return b.inner.CreateEvent(ctx, evt) })
	if err != nil {
		return CalendarEvent{}, err
	}
	return out.(CalendarEvent), nil
}

// UpdateEvent implements CalendarAdapter.
func (b *BreakerCalendar) UpdateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error) {
	out, err := b.cb.Execute(func() (any, error) { return b.inner.UpdateEvent(ctx, evt) })
	if err != nil {
		return CalendarEvent{}, err
	}
	return out.(CalendarEvent), nil
}

// DeleteEvent implements CalendarAdapter.
func (b *BreakerCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	_, err := b.cb.Execute(func() (any, error) { return nil, b.inner.DeleteEvent(ctx, eventID) })
	return err
}

// ListEvents implements CalendarAdapter.
func (b *BreakerCalendar) ListEvents(ctx context.Context, ownerID string, start, end time.Time) ([]CalendarEvent, error) {
	out, err := b.cb.Execute(func() (any, error) { return b.inner.ListEvents(ctx, ownerID, start, end) })
	if err != nil {
		return nil, err
	}
	return out.([]CalendarEvent), nil
}
