package event

import (
	"fmt"
	"sync"
)

// Schema defines one variant of the closed event-type set.
type Schema struct {
	// Type is the event type (e.g., "booking.created").
	Type Type

	// AggregateType is the aggregate this event belongs to.
	AggregateType string

	// Description explains the event's purpose.
	Description string

	// NewPayload returns a zero value of the expected payload type.
	// Nil for events without a payload.
	NewPayload func() any

	// Validator is an optional custom validation function.
	Validator func(DomainEvent) error
}

// Validate checks if an event conforms to this schema.
func (s *Schema) Validate(evt DomainEvent) error {
	if evt.Type != s.Type {
		return fmt.Errorf("event type mismatch: expected %s, got %s", s.Type, evt.Type)
	}
	if s.AggregateType != "" && evt.AggregateType != s.AggregateType {
		return fmt.Errorf("aggregate type mismatch for %s: expected %s, got %s",
			s.Type, s.AggregateType, evt.AggregateType)
	}
	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// Registry holds the closed set of event-type variants. Events with an
// unregistered type are rejected before they reach the store or the bus.
// A Registry is constructed and injected; there is no process-wide default.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Type]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[Type]*Schema),
	}
}

// Register adds an event schema to the registry.
func (r *Registry) Register(schema *Schema) error {
	if schema.Type == "" {
		return fmt.Errorf("event type is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Type]; exists {
		return fmt.Errorf("event type %s already registered", schema.Type)
	}

	r.schemas[schema.Type] = schema
	return nil
}

// MustRegister adds a schema, panicking on error.
func (r *Registry) MustRegister(schema *Schema) {
	if err := r.Register(schema); err != nil {
		panic(fmt.Sprintf("failed to register event schema: %v", err))
	}
}

// Get returns the schema for an event type.
func (r *Registry) Get(typ Type) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[typ]
	return schema, ok
}

// Has returns true if a schema exists for the event type.
func (r *Registry) Has(typ Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[typ]
	return ok
}

// Validate checks if an event conforms to its registered schema.
// Unregistered types are an error: the type set is closed.
func (r *Registry) Validate(evt DomainEvent) error {
	r.mu.RLock()
	schema, ok := r.schemas[evt.Type]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown event type: %s", evt.Type)
	}

	return schema.Validate(evt)
}

// Types returns all registered event types.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}
