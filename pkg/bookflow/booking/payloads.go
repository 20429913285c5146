package booking

import "time"

// CreatedPayload is the payload of booking.created.
type CreatedPayload struct {
	OrganizerID  string    `json:"organizer_id"`
	TeamIDs      []string  `json:"team_ids,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Participants []string  `json:"participants,omitempty"`
	Title        string    `json:"title,omitempty"`

	// CalendarEventID references the external calendar entry reserved for
	// this booking, when one exists.
	CalendarEventID string `json:"calendar_event_id,omitempty"`
}

// SubmittedPayload is the payload of booking.submitted.
type SubmittedPayload struct {
	RequiresPayment bool `json:"requires_payment"`
}

// PaymentConfirmedPayload is the payload of booking.payment_confirmed.
type PaymentConfirmedPayload struct {
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

// PaymentFailedPayload is the payload of booking.payment_failed.
type PaymentFailedPayload struct {
	PaymentID string `json:"payment_id,omitempty"`
	Reason    string `json:"reason"`
}

// PaymentRetriedPayload is the payload of booking.payment_retried.
type PaymentRetriedPayload struct {
	Attempt int `json:"attempt"`
}

// RescheduledPayload is the payload of booking.rescheduled.
type RescheduledPayload struct {
	NewStartTime time.Time `json:"new_start_time"`
	NewEndTime   time.Time `json:"new_end_time"`
	Reason       string    `json:"reason,omitempty"`
}

// RescheduleConfirmedPayload is the payload of booking.reschedule_confirmed.
type RescheduleConfirmedPayload struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CancelledPayload is the payload of booking.cancelled.
type CancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// CompletedPayload is the payload of booking.completed.
type CompletedPayload struct {
	CompletedAt time.Time `json:"completed_at"`
}

// WorkflowFailedPayload is the payload of booking.workflow_failed. It records
// the cause chain of a failed workflow run for audit; folding it leaves the
// aggregate status unchanged.
type WorkflowFailedPayload struct {
	Workflow    string   `json:"workflow"`
	FailedStep  string   `json:"failed_step"`
	CauseChain  []string `json:"cause_chain"`
	Compensated []string `json:"compensated_steps,omitempty"`
}
