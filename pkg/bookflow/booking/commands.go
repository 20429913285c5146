package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/bookflow/errors"
	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// Commands validate the requested transition against the current state and,
// when legal, construct exactly one unpersisted event. The caller appends the
// event at the aggregate's current version and folds it back in; the command
// itself changes nothing.

// CreateParams are the inputs to Create.
type CreateParams struct {
	BookingID    string
	OrganizerID  string
	TeamIDs      []string
	StartTime    time.Time
	EndTime      time.Time
	Participants []string
	Title        string

	// CalendarEventID links the reserved external calendar entry, if any.
	CalendarEventID string
}

// Create starts a new booking in Draft. It is the only command valid on an
// empty aggregate. An empty BookingID gets a generated one.
func Create(p CreateParams, opts ...event.Option) (event.DomainEvent, error) {
	if p.OrganizerID == "" {
		return event.DomainEvent{}, &errors.ValidationError{Field: "organizer_id", Message: "organizer is required"}
	}
	if p.StartTime.IsZero() || p.EndTime.IsZero() {
		return event.DomainEvent{}, &errors.ValidationError{Field: "start_time", Message: "start and end times are required"}
	}
	if !p.EndTime.After(p.StartTime) {
		return event.DomainEvent{}, &errors.ValidationError{Field: "end_time", Message: "end time must be after start time"}
	}
	if p.BookingID == "" {
		p.BookingID = uuid.NewString()
	}
	return event.New(event.TypeBookingCreated, event.AggregateBooking, p.BookingID, CreatedPayload{
		OrganizerID:     p.OrganizerID,
		TeamIDs:         p.TeamIDs,
		StartTime:       p.StartTime,
		EndTime:         p.EndTime,
		Participants:    p.Participants,
		Title:           p.Title,
		CalendarEventID: p.CalendarEventID,
	}, opts...)
}

func (a *Aggregate) command(name string, typ event.Type) error {
	if a.Version == 0 {
		return &InvalidTransitionError{BookingID: a.ID, From: a.Status, Command: name}
	}
	if !transitions[a.Status][typ] {
		return &InvalidTransitionError{BookingID: a.ID, From: a.Status, Command: name}
	}
	return nil
}

// Submit moves a draft forward: to PendingPayment when payment is required,
// straight to Confirmed otherwise.
func (a *Aggregate) Submit(requiresPayment bool, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("submit", event.TypeBookingSubmitted); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypeBookingSubmitted, event.AggregateBooking, a.ID, SubmittedPayload{
		RequiresPayment: requiresPayment,
	}, opts...)
}

// ConfirmPayment records a successful payment on a PendingPayment booking.
func (a *Aggregate) ConfirmPayment(paymentID string, amountMinor int64, currency string, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("confirm payment", event.TypePaymentConfirmed); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypePaymentConfirmed, event.AggregateBooking, a.ID, PaymentConfirmedPayload{
		PaymentID:   paymentID,
		AmountMinor: amountMinor,
		Currency:    currency,
	}, opts...)
}

// FailPayment records a failed payment on a PendingPayment booking.
func (a *Aggregate) FailPayment(paymentID, reason string, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("fail payment", event.TypePaymentFailed); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypePaymentFailed, event.AggregateBooking, a.ID, PaymentFailedPayload{
		PaymentID: paymentID,
		Reason:    reason,
	}, opts...)
}

// RetryPayment moves a PaymentFailed booking back to PendingPayment.
func (a *Aggregate) RetryPayment(attempt int, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("retry payment", event.TypePaymentRetried); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypePaymentRetried, event.AggregateBooking, a.ID, PaymentRetriedPayload{
		Attempt: attempt,
	}, opts...)
}

// Reschedule proposes a new time for a Confirmed booking. The current time
// stays in effect until the reschedule is confirmed.
func (a *Aggregate) Reschedule(newStart, newEnd time.Time, reason string, opts ...event.Option) (event.DomainEvent, error) {
	if !newEnd.After(newStart) {
		return event.DomainEvent{}, &errors.ValidationError{Field: "new_end_time", Message: "end time must be after start time"}
	}
	if err := a.command("reschedule", event.TypeBookingRescheduled); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypeBookingRescheduled, event.AggregateBooking, a.ID, RescheduledPayload{
		NewStartTime: newStart,
		NewEndTime:   newEnd,
		Reason:       reason,
	}, opts...)
}

// ConfirmReschedule promotes the proposed time on a Rescheduled booking.
func (a *Aggregate) ConfirmReschedule(opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("confirm reschedule", event.TypeRescheduleConfirmed); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypeRescheduleConfirmed, event.AggregateBooking, a.ID, RescheduleConfirmedPayload{
		StartTime: a.ProposedStartTime,
		EndTime:   a.ProposedEndTime,
	}, opts...)
}

// Cancel cancels a Confirmed or Rescheduled booking. Terminal.
func (a *Aggregate) Cancel(reason string, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("cancel", event.TypeBookingCancelled); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypeBookingCancelled, event.AggregateBooking, a.ID, CancelledPayload{
		Reason: reason,
	}, opts...)
}

// Abandon cancels a PaymentFailed booking. Terminal.
func (a *Aggregate) Abandon(opts ...event.Option) (event.DomainEvent, error) {
	if a.Status != StatusPaymentFailed {
		return event.DomainEvent{}, &InvalidTransitionError{BookingID: a.ID, From: a.Status, Command: "abandon"}
	}
	return event.New(event.TypeBookingCancelled, event.AggregateBooking, a.ID, CancelledPayload{
		Reason: "payment abandoned",
	}, opts...)
}

// Complete records the booking time elapsing on a Confirmed booking. Terminal.
func (a *Aggregate) Complete(at time.Time, opts ...event.Option) (event.DomainEvent, error) {
	if err := a.command("complete", event.TypeBookingCompleted); err != nil {
		return event.DomainEvent{}, err
	}
	return event.New(event.TypeBookingCompleted, event.AggregateBooking, a.ID, CompletedPayload{
		CompletedAt: at,
	}, opts...)
}
