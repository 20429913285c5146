package booking

import (
	"fmt"

	"github.com/bookflow/bookflow/pkg/bookflow/event"
)

// NewRegistry returns a registry populated with the closed set of booking
// lifecycle event types.
func NewRegistry() *event.Registry {
	r := event.NewRegistry()

	r.MustRegister(&event.Schema{
		Type:          event.TypeBookingCreated,
		AggregateType: event.AggregateBooking,
		Description:   "A draft booking was created",
		NewPayload:    func() any { return &CreatedPayload{} },
		Validator: func(evt event.DomainEvent) error {
			p, err := event.DecodePayload[CreatedPayload](evt)
			if err != nil {
				return err
			}
			if p.OrganizerID == "" {
				return fmt.Errorf("organizer_id is required")
			}
			if !p.EndTime.After(p.StartTime) {
				return fmt.Errorf("end_time must be after start_time")
			}
			return nil
		},
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeBookingSubmitted,
		AggregateType: event.AggregateBooking,
		Description:   "A draft booking was submitted",
		NewPayload:    func() any { return &SubmittedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypePaymentConfirmed,
		AggregateType: event.AggregateBooking,
		Description:   "Payment for a booking succeeded",
		NewPayload:    func() any { return &PaymentConfirmedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypePaymentFailed,
		AggregateType: event.AggregateBooking,
		Description:   "Payment for a booking failed",
		NewPayload:    func() any { return &PaymentFailedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypePaymentRetried,
		AggregateType: event.AggregateBooking,
		Description:   "A failed payment was retried",
		NewPayload:    func() any { return &PaymentRetriedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeBookingRescheduled,
		AggregateType: event.AggregateBooking,
		Description:   "A new time was proposed for a confirmed booking",
		NewPayload:    func() any { return &RescheduledPayload{} },
		Validator: func(evt event.DomainEvent) error {
			p, err := event.DecodePayload[RescheduledPayload](evt)
			if err != nil {
				return err
			}
			if !p.NewEndTime.After(p.NewStartTime) {
				return fmt.Errorf("new_end_time must be after new_start_time")
			}
			return nil
		},
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeRescheduleConfirmed,
		AggregateType: event.AggregateBooking,
		Description:   "A proposed reschedule was confirmed",
		NewPayload:    func() any { return &RescheduleConfirmedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeBookingCancelled,
		AggregateType: event.AggregateBooking,
		Description:   "A booking was cancelled",
		NewPayload:    func() any { return &CancelledPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeBookingCompleted,
		AggregateType: event.AggregateBooking,
		Description:   "A booking's scheduled time elapsed",
		NewPayload:    func() any { return &CompletedPayload{} },
	})
	r.MustRegister(&event.Schema{
		Type:          event.TypeWorkflowFailed,
		AggregateType: event.AggregateBooking,
		Description:   "A workflow run failed after compensation",
		NewPayload:    func() any { return &WorkflowFailedPayload{} },
	})

	return r
}
