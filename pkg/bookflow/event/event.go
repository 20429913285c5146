// Package event provides the event primitives for the booking engine.
//
// This package implements:
//   - DomainEvent envelope with correlation and causation tracking
//   - Registry holding the closed set of event-type variants
//   - Bus for pub/sub fan-out with isolated, retried handler dispatch
//   - Dead-letter queue for handler invocations past their retry budget
//
// Design Influences:
//   - AWS EventBridge (dead letter queues, error handling)
//   - Apache Kafka (fan-out, correlation IDs)
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a domain event. The full set of valid types is
// closed: every type must be registered in a Registry before it can be
// appended or published.
type Type string

// AggregateBooking is the aggregate type for booking lifecycle events.
const AggregateBooking = "booking"

// Booking lifecycle events.
const (
	// TypeBookingCreated records the creation of a draft booking.
	TypeBookingCreated Type = "booking.created"
	// TypeBookingSubmitted records a draft being submitted, with or without payment.
	TypeBookingSubmitted Type = "booking.submitted"
	// TypePaymentConfirmed records a successful payment.
	TypePaymentConfirmed Type = "booking.payment_confirmed"
	// TypePaymentFailed records a failed payment.
	TypePaymentFailed Type = "booking.payment_failed"
	// TypePaymentRetried records a payment retry after failure.
	TypePaymentRetried Type = "booking.payment_retried"
	// TypeBookingRescheduled records a reschedule request on a confirmed booking.
	TypeBookingRescheduled Type = "booking.rescheduled"
	// TypeRescheduleConfirmed records the new time being confirmed.
	TypeRescheduleConfirmed Type = "booking.reschedule_confirmed"
	// TypeBookingCancelled records a cancellation.
	TypeBookingCancelled Type = "booking.cancelled"
	// TypeBookingCompleted records the booking time elapsing.
	TypeBookingCompleted Type = "booking.completed"
	// TypeWorkflowFailed records a workflow run that failed after compensation.
	// It is advisory: folding it does not change aggregate status.
	TypeWorkflowFailed Type = "booking.workflow_failed"
)

// Metadata contains common event metadata fields.
type Metadata struct {
	ActorID        string    `json:"actor_id,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  string    `json:"correlation_id"`
	CausationID    string    `json:"causation_id,omitempty"`
}

// DomainEvent is an immutable record of something that happened to an
// aggregate. Version is strictly increasing per AggregateID with no gaps and
// is the sole concurrency token.
type DomainEvent struct {
	ID            string   `json:"id"`
	Type          Type     `json:"type"`
	AggregateID   string   `json:"aggregate_id"`
	AggregateType string   `json:"aggregate_type"`
	Version       int64    `json:"version"`
	Payload       []byte   `json:"payload,omitempty"`
	Metadata      Metadata `json:"metadata"`
}

// Persisted reports whether the event carries a version assigned by the
// event store. Only persisted events may be published.
func (e DomainEvent) Persisted() bool {
	return e.Version >= 1
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id             string
	actorID        string
	organizationID string
	correlationID  string
	causationID    string
	timestamp      time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithActor sets the acting user on the event metadata.
func WithActor(actorID string) Option {
	return func(cfg *eventConfig) {
		cfg.actorID = actorID
	}
}

// WithOrganization sets the owning organization on the event metadata.
func WithOrganization(orgID string) Option {
	return func(cfg *eventConfig) {
		cfg.organizationID = orgID
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func WithCorrelationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now().UTC()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new unsequenced event for the given aggregate. The payload is
// serialized to JSON. Version is zero until the event store assigns one on
// append.
func New(typ Type, aggregateType, aggregateID string, payload any, opts ...Option) (DomainEvent, error) {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, use the event ID as the root
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return DomainEvent{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
	}

	return DomainEvent{
		ID:            cfg.id,
		Type:          typ,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       data,
		Metadata: Metadata{
			ActorID:        cfg.actorID,
			OrganizationID: cfg.organizationID,
			Timestamp:      cfg.timestamp,
			CorrelationID:  cfg.correlationID,
			CausationID:    cfg.causationID,
		},
	}, nil
}

// NewFromParent creates a new event caused by a parent event.
// It inherits the correlation ID and organization and sets the causation ID.
func NewFromParent(parent DomainEvent, typ Type, aggregateType, aggregateID string, payload any, opts ...Option) (DomainEvent, error) {
	parentOpts := []Option{
		WithCorrelationID(parent.Metadata.CorrelationID),
		WithCausationID(parent.ID),
		WithOrganization(parent.Metadata.OrganizationID),
	}
	allOpts := append(parentOpts, opts...)

	return New(typ, aggregateType, aggregateID, payload, allOpts...)
}

// DecodePayload unmarshals the event payload into T.
func DecodePayload[T any](evt DomainEvent) (T, error) {
	var payload T
	if len(evt.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", evt.Type, err)
	}
	return payload, nil
}
