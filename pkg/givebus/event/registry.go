package event

import (
	"fmt"
	"sync"
)

// Schema describes the expected payload shape for one event type.
type Schema struct {
	// Type is the event type this schema validates.
	Type string

	// Description explains the event's purpose.
	Description string

	// Required lists payload fields that must be present and non-nil.
	Required []string

	// Optional lists payload fields that may be present. When non-empty
	// together with Required, unexpected fields are rejected.
	Optional []string

	// Validator is an optional custom validation function, run after the
	// structural checks.
	Validator func(*Event) error
}

// Validate checks an event against this schema.
func (s *Schema) Validate(evt *Event) error {
	if evt.Type != s.Type {
		return &ValidationError{
			EventID:   evt.ID,
			EventType: evt.Type,
			Message:   fmt.Sprintf("schema type mismatch: expected %s", s.Type),
		}
	}

	for _, field := range s.Required {
		v, ok := evt.Payload[field]
		if !ok || v == nil {
			return &ValidationError{
				EventID:   evt.ID,
				EventType: evt.Type,
				Field:     field,
				Message:   "required field missing",
			}
		}
	}

	if len(s.Optional) > 0 {
		allowed := make(map[string]struct{}, len(s.Required)+len(s.Optional))
		for _, f := range s.Required {
			allowed[f] = struct{}{}
		}
		for _, f := range s.Optional {
			allowed[f] = struct{}{}
		}
		for field := range evt.Payload {
			if _, ok := allowed[field]; !ok {
				return &ValidationError{
					EventID:   evt.ID,
					EventType: evt.Type,
					Field:     field,
					Message:   "unexpected field",
				}
			}
		}
	}

	if s.Validator != nil {
		if err := s.Validator(evt); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}

	return nil
}

// Registry holds the schemas for all accepted event types.
// Events of unregistered types are rejected at the bus boundary.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema. Re-registering a type replaces the schema.
func (r *Registry) Register(schema *Schema) error {
	if schema.Type == "" {
		return fmt.Errorf("schema type is required")
	}
	if !ValidType(schema.Type) {
		return fmt.Errorf("schema type %q is not dot-namespaced", schema.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Type] = schema
	return nil
}

// MustRegister registers a schema, panicking on error. Intended for
// package-level schema declarations at startup.
func (r *Registry) MustRegister(schema *Schema) {
	if err := r.Register(schema); err != nil {
		panic(fmt.Sprintf("register event schema: %v", err))
	}
}

// Get returns the schema for an event type.
func (r *Registry) Get(eventType string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[eventType]
	return schema, ok
}

// Has returns true if a schema exists for the event type.
func (r *Registry) Has(eventType string) bool {
	_, ok := r.Get(eventType)
	return ok
}

// Validate checks an event against its registered schema.
func (r *Registry) Validate(evt *Event) error {
	r.mu.RLock()
	schema, ok := r.schemas[evt.Type]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type)
	}
	return schema.Validate(evt)
}

// Types returns all registered event types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}
