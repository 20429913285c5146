// Package external defines the collaborator interfaces the booking workflow
// calls out to (availability, calendar, payment, notification, permission)
// and circuit-breaker wrappers for the remote ones. Implementations are
// injected; the workflow never talks to a concrete backend directly.
package external

import (
	"context"
	"time"
)

// AvailabilityResult is the outcome of an availability check.
type AvailabilityResult struct {
	Available bool
	Conflicts []CalendarEvent
}

// AvailabilityService checks whether an owner is free in a time range.
type AvailabilityService interface {
	Check(ctx context.Context, ownerID string, start, end time.Time) (AvailabilityResult, error)
}

// CalendarEvent is an entry in an external calendar.
type CalendarEvent struct {
	ID      string
	OwnerID string
	Title   string
	Start   time.Time
	End     time.Time
}

// CalendarAdapter manages entries in an external calendar system.
type CalendarAdapter interface {
	CreateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error)
	UpdateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error)
	DeleteEvent(ctx context.Context, eventID string) error
	ListEvents(ctx context.Context, ownerID string, start, end time.Time) ([]CalendarEvent, error)
}

// PaymentStatus is the state of a payment.
type PaymentStatus string

// Payment states.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a payment record held by the payment provider.
type Payment struct {
	ID          string
	BookingID   string
	AmountMinor int64
	Currency    string
	Status      PaymentStatus
}

// PaymentService processes booking payments.
type PaymentService interface {
	CreatePayment(ctx context.Context, bookingID string, amountMinor int64, currency string) (Payment, error)
	ConfirmPayment(ctx context.Context, paymentID string) (Payment, error)
	RefundPayment(ctx context.Context, paymentID string) (Payment, error)
}

// NotificationPayload is a message to deliver to a user.
type NotificationPayload struct {
	UserID    string
	BookingID string
	Kind      string
	Message   string
}

// NotificationService delivers user notifications.
type NotificationService interface {
	Send(ctx context.Context, payload NotificationPayload) error
}

// PermissionService authorizes an actor to perform an action on a resource.
type PermissionService interface {
	Authorize(ctx context.Context, actorID, action, resourceRef string) (bool, error)
}
