package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for event validation and migration.
var (
	// ErrUnknownEventType is returned when no schema is registered for a type.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrNoMigrationPath is returned when no chain of registered migrations
	// leads from an event's version to the requested target version.
	// Callers must treat this as fatal for that event.
	ErrNoMigrationPath = errors.New("no migration path")
)

// ValidationError describes why an event failed schema validation.
type ValidationError struct {
	EventID   string
	EventType string
	Field     string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("event %s (%s): field %q: %s", e.EventID, e.EventType, e.Field, e.Message)
	}
	return fmt.Sprintf("event %s (%s): %s", e.EventID, e.EventType, e.Message)
}

// Error wraps a failure while handling a specific event.
type Error struct {
	Event   *Event
	Handler string
	Message string
	Err     error
}

func (e *Error) Error() string {
	id := ""
	if e.Event != nil {
		id = e.Event.ID
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", id, e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", id, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }
