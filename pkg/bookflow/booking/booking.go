// Package booking implements the booking aggregate: a pure state machine
// folded over an event sequence. Commands validate transitions and emit
// events; they never mutate durable state directly. The event log is the
// source of truth and the aggregate is a disposable projection over it.
package booking

import (
	"fmt"
	"time"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// Status is the lifecycle state of a booking.
type Status string

// Booking lifecycle states. Cancelled and Completed are terminal.
const (
	StatusDraft          Status = "draft"
	StatusPendingPayment Status = "pending_payment"
	StatusConfirmed      Status = "confirmed"
	StatusPaymentFailed  Status = "payment_failed"
	StatusRescheduled    Status = "rescheduled"
	StatusCancelled      Status = "cancelled"
	StatusCompleted      Status = "completed"
)

// Terminal reports whether no further commands are accepted in this status.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// InvalidTransitionError indicates a command that is illegal for the
// aggregate's current status. No event is produced. Callers should treat it
// as a programming or integrity signal, not a retryable condition.
type InvalidTransitionError struct {
	BookingID string
	From      Status
	Command   string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("booking %s: cannot %s while %s", e.BookingID, e.Command, e.From)
}

// Aggregate is the current state of a booking, derived by folding its event
// log. Version equals the number of folded events and is the expectedVersion
// for the next append.
type Aggregate struct {
	ID           string
	Status       Status
	OrganizerID  string
	TeamIDs      []string
	StartTime    time.Time
	EndTime      time.Time
	Participants []string
	Version      int64

	// External references folded from events.
	CalendarEventID string
	PaymentID       string

	// Proposed times carried by a pending reschedule. Promoted to
	// StartTime/EndTime when the reschedule is confirmed.
	ProposedStartTime time.Time
	ProposedEndTime   time.Time
}

// transitions maps each non-terminal status to the event types that may be
// folded next. The target status is a function of the event, not the table:
// booking.submitted lands in PendingPayment or Confirmed depending on
// whether payment is required.
var transitions = map[Status]map[event.Type]bool{
	StatusDraft: {
		event.TypeBookingSubmitted: true,
	},
	StatusPendingPayment: {
		event.TypePaymentConfirmed: true,
		event.TypePaymentFailed:    true,
	},
	StatusPaymentFailed: {
		event.TypePaymentRetried:   true,
		event.TypeBookingCancelled: true,
	},
	StatusConfirmed: {
		event.TypeBookingRescheduled: true,
		event.TypeBookingCancelled:   true,
		event.TypeBookingCompleted:   true,
	},
	StatusRescheduled: {
		event.TypeRescheduleConfirmed: true,
		event.TypeBookingCancelled:    true,
	},
}

// allows reports whether an event of the given type may be folded from the
// current status.
func (a *Aggregate) allows(typ event.Type) bool {
	if typ == event.TypeWorkflowFailed {
		// Advisory record of a failed workflow run; fold-neutral.
		return true
	}
	if a.Version == 0 {
		return typ == event.TypeBookingCreated
	}
	return transitions[a.Status][typ]
}

// Apply folds one event into the aggregate. The fold is pure and
// deterministic: replaying the same sequence always yields the same state.
// Events are applied in version order with no gaps.
func (a *Aggregate) Apply(evt event.DomainEvent) error {
	if evt.AggregateType != event.AggregateBooking {
		return fmt.Errorf("cannot fold %s event into booking aggregate", evt.AggregateType)
	}
	if a.Version > 0 && evt.AggregateID != a.ID {
		return fmt.Errorf("event belongs to aggregate %s, not %s", evt.AggregateID, a.ID)
	}
	if evt.Version != a.Version+1 {
		return fmt.Errorf("booking %s: event version %d does not follow %d", evt.AggregateID, evt.Version, a.Version)
	}
	if !a.allows(evt.Type) {
		return &InvalidTransitionError{BookingID: evt.AggregateID, From: a.Status, Command: string(evt.Type)}
	}

	switch evt.Type {
	case event.TypeBookingCreated:
		p, err := event.DecodePayload[CreatedPayload](evt)
		if err != nil {
			return err
		}
		a.ID = evt.AggregateID
		a.Status = StatusDraft
		a.OrganizerID = p.OrganizerID
		a.TeamIDs = p.TeamIDs
		a.StartTime = p.StartTime
		a.EndTime = p.EndTime
		a.Participants = p.Participants
		a.CalendarEventID = p.CalendarEventID

	case event.TypeBookingSubmitted:
		p, err := event.DecodePayload[SubmittedPayload](evt)
		if err != nil {
			return err
		}
		if p.RequiresPayment {
			a.Status = StatusPendingPayment
		} else {
			a.Status = StatusConfirmed
		}

	case event.TypePaymentConfirmed:
		p, err := event.DecodePayload[PaymentConfirmedPayload](evt)
		if err != nil {
			return err
		}
		a.Status = StatusConfirmed
		a.PaymentID = p.PaymentID

	case event.TypePaymentFailed:
		a.Status = StatusPaymentFailed

	case event.TypePaymentRetried:
		a.Status = StatusPendingPayment

	case event.TypeBookingRescheduled:
		p, err := event.DecodePayload[RescheduledPayload](evt)
		if err != nil {
			return err
		}
		a.Status = StatusRescheduled
		a.ProposedStartTime = p.NewStartTime
		a.ProposedEndTime = p.NewEndTime

	case event.TypeRescheduleConfirmed:
		a.Status = StatusConfirmed
		a.StartTime = a.ProposedStartTime
		a.EndTime = a.ProposedEndTime
		a.ProposedStartTime = time.Time{}
		a.ProposedEndTime = time.Time{}

	case event.TypeBookingCancelled:
		a.Status = StatusCancelled

	case event.TypeBookingCompleted:
		a.Status = StatusCompleted

	case event.TypeWorkflowFailed:
		// Status unchanged.

	default:
		return fmt.Errorf("unknown event type %s", evt.Type)
	}

	a.Version = evt.Version
	return nil
}

// Replay folds an ordered event sequence into a fresh aggregate.
func Replay(events []event.DomainEvent) (*Aggregate, error) {
	agg := &Aggregate{}
	for _, evt := range events {
		if err := agg.Apply(evt); err != nil {
			return nil, err
		}
	}
	return agg, nil
}
