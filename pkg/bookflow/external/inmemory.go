package external

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bookflow/bookflow/pkg/bookflow/conflict"
	"github.com/bookflow/bookflow/pkg/bookflow/errors"
)

// In-memory collaborator implementations for demos and single-process
// deployments without real providers.

// InMemoryCalendar is a CalendarAdapter backed by a map.
type InMemoryCalendar struct {
	mu     sync.RWMutex
	events map[string]CalendarEvent
}

var _ CalendarAdapter = (*InMemoryCalendar)(nil)

// NewInMemoryCalendar creates an empty calendar.
func NewInMemoryCalendar() *InMemoryCalendar {
	return &InMemoryCalendar{events: make(map[string]CalendarEvent)}
}

// CreateEvent implements CalendarAdapter.
func (c *InMemoryCalendar) CreateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return CalendarEvent{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	c.events[evt.ID] = evt
	return evt, nil
}

// UpdateEvent implements CalendarAdapter.
func (c *InMemoryCalendar) UpdateEvent(ctx context.Context, evt CalendarEvent) (CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return CalendarEvent{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[evt.ID]; !ok {
		return CalendarEvent{}, &errors.ExternalServiceError{
			Service: "calendar", Operation: "update_event", StatusCode: 404,
			Message: fmt.Sprintf("event %s not found", evt.ID),
		}
	}
	c.events[evt.ID] = evt
	return evt, nil
}

// DeleteEvent implements CalendarAdapter. Deleting an unknown event is not
// an error: the desired end state holds either way.
func (c *InMemoryCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, eventID)
	return nil
}

// ListEvents implements CalendarAdapter.
func (c *InMemoryCalendar) ListEvents(ctx context.Context, ownerID string, start, end time.Time) ([]CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	window := conflict.Interval{Start: start, End: end}
	var out []CalendarEvent
	for _, evt := range c.events {
		if evt.OwnerID != ownerID {
			continue
		}
		if conflict.Overlaps(conflict.Interval{Start: evt.Start, End: evt.End}, window) {
			out = append(out, evt)
		}
	}
	return out, nil
}

// CalendarAvailability answers availability checks from a CalendarAdapter.
type CalendarAvailability struct {
	calendar CalendarAdapter
}

var _ AvailabilityService = (*CalendarAvailability)(nil)

// NewCalendarAvailability builds an AvailabilityService over a calendar.
func NewCalendarAvailability(calendar CalendarAdapter) *CalendarAvailability {
	return &CalendarAvailability{calendar: calendar}
}

// Check implements AvailabilityService. The owner is available iff the
// calendar shows no entries overlapping the range.
func (a *CalendarAvailability) Check(ctx context.Context, ownerID string, start, end time.Time) (AvailabilityResult, error) {
	conflicts, err := a.calendar.ListEvents(ctx, ownerID, start, end)
	if err != nil {
		return AvailabilityResult{}, err
	}
	return AvailabilityResult{
		Available: len(conflicts) == 0,
		Conflicts: conflicts,
	}, nil
}

// InMemoryPayments is a PaymentService that approves or declines payments
// according to a configurable hook.
type InMemoryPayments struct {
	mu       sync.Mutex
	payments map[string]Payment

	// Decline, when set, causes ConfirmPayment to fail for matching payments.
	Decline func(p Payment) bool
}

var _ PaymentService = (*InMemoryPayments)(nil)

// NewInMemoryPayments creates a payment service that approves everything.
func NewInMemoryPayments() *InMemoryPayments {
	return &InMemoryPayments{payments: make(map[string]Payment)}
}

// CreatePayment implements PaymentService.
func (s *InMemoryPayments) CreatePayment(ctx context.Context, bookingID string, amountMinor int64, currency string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Payment{
		ID:          uuid.NewString(),
		BookingID:   bookingID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Status:      PaymentPending,
	}
	s.payments[p.ID] = p
	return p, nil
}

// ConfirmPayment implements PaymentService.
func (s *InMemoryPayments) ConfirmPayment(ctx context.Context, paymentID string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, &errors.ExternalServiceError{
			Service: "payment", Operation: "confirm_payment", StatusCode: 404,
			Message: fmt.Sprintf("payment %s not found", paymentID),
		}
	}
	if s.Decline != nil && s.Decline(p) {
		p.Status = PaymentFailed
		s.payments[paymentID] = p
		return Payment{}, &errors.ExternalServiceError{
			Service: "payment", Operation: "confirm_payment", StatusCode: 402,
			Message: "payment declined",
		}
	}
	p.Status = PaymentConfirmed
	s.payments[paymentID] = p
	return p, nil
}

// RefundPayment implements PaymentService.
func (s *InMemoryPayments) RefundPayment(ctx context.Context, paymentID string) (Payment, error) {
	if err := ctx.Err(); err != nil {
		return Payment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return Payment{}, &errors.ExternalServiceError{
			Service: "payment", Operation: "refund_payment", StatusCode: 404,
			Message: fmt.Sprintf("payment %s not found", paymentID),
		}
	}
	p.Status = PaymentRefunded
	s.payments[paymentID] = p
	return p, nil
}

// Get returns a payment by id, for inspection.
func (s *InMemoryPayments) Get(paymentID string) (Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	return p, ok
}

// LogNotifications is a NotificationService that records what it would have
// sent.
type LogNotifications struct {
	mu   sync.Mutex
	sent []NotificationPayload
}

var _ NotificationService = (*LogNotifications)(nil)

// NewLogNotifications creates an empty notification recorder.
func NewLogNotifications() *LogNotifications {
	return &LogNotifications{}
}

// Send implements NotificationService.
func (n *LogNotifications) Send(ctx context.Context, payload NotificationPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, payload)
	return nil
}

// Sent returns a copy of everything sent so far.
func (n *LogNotifications) Sent() []NotificationPayload {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationPayload, len(n.sent))
	copy(out, n.sent)
	return out
}

// AllowAllPermissions is a PermissionService that authorizes everything.
type AllowAllPermissions struct{}

var _ PermissionService = AllowAllPermissions{}

// Authorize implements PermissionService.
func (AllowAllPermissions) Authorize(ctx context.Context, actorID, action, resourceRef string) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}
