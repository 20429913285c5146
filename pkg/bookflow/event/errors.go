package event

import (
	"context"
	"fmt"
	"time"
)

// EventError represents an error during event processing.
type EventError struct {
	Event   DomainEvent // The event that failed
	Handler string      // Handler that failed (if known)
	Message string      // Error message
	Err     error       // Underlying error
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID, e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// DeadLetterEntry holds a handler invocation that exhausted its retry budget.
// Entries are inert: nothing retries them until Reprocess is called manually.
type DeadLetterEntry struct {
	Event DomainEvent `json:"event"`

	// HandlerID identifies the handler that failed.
	HandlerID string `json:"handler_id"`

	// Error is the final error message after all attempts.
	Error string `json:"error"`

	// Attempts is the number of delivery attempts made.
	Attempts int `json:"attempts"`

	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`

	// NextRetryAt is advisory: when a manual reprocess would be reasonable.
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
}

// NewDeadLetterEntry creates an entry from a final handler error.
func NewDeadLetterEntry(evt DomainEvent, handlerID string, err error, attempts int) *DeadLetterEntry {
	now := time.Now().UTC()
	return &DeadLetterEntry{
		Event:         evt,
		HandlerID:     handlerID,
		Error:         err.Error(),
		Attempts:      attempts,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// DeadLetterQueue stores handler invocations that failed past their retry
// budget. Implementations must be safe for concurrent use.
type DeadLetterQueue interface {
	// Enqueue adds an entry to the queue.
	Enqueue(ctx context.Context, entry *DeadLetterEntry) error

	// List returns entries, oldest failure first.
	List(ctx context.Context, limit int) ([]*DeadLetterEntry, error)

	// ListByHandler returns entries for a specific handler id.
	ListByHandler(ctx context.Context, handlerID string, limit int) ([]*DeadLetterEntry, error)

	// Get retrieves the entry for an event/handler pair.
	Get(ctx context.Context, eventID, handlerID string) (*DeadLetterEntry, error)

	// Delete removes an entry after successful manual reprocessing.
	Delete(ctx context.Context, eventID, handlerID string) error

	// Count returns the number of entries in the queue.
	Count(ctx context.Context) (int, error)
}

// Sentinel errors for dead-letter operations.
var (
	// ErrEntryNotFound indicates no dead-letter entry exists for the key.
	ErrEntryNotFound = fmt.Errorf("dead-letter entry not found")

	// ErrQueueFull indicates the queue refused a new entry.
	ErrQueueFull = fmt.Errorf("dead-letter queue is full")
)
