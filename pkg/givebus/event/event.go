// Package event provides the event envelope and schema primitives for givebus.
//
// Every fact that flows through the platform is wrapped in an immutable
// Event envelope carrying identity, correlation and causation tracking,
// a semantic payload version, and a free-form metadata bag. Schemas are
// registered per event type and validated once at the bus boundary, so
// downstream processors can assume a well-formed payload.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for a single domain fact.
// Once persisted an event is immutable - corrections are new events.
type Event struct {
	// ID is the globally unique identifier, generated at creation.
	// It is the primary de-duplication key.
	ID string `json:"id"`

	// Type is the dot-namespaced event type, e.g. "campaign.created".
	Type string `json:"type"`

	// Timestamp is the creation instant. Informative, not a total order
	// across processes.
	Timestamp time.Time `json:"timestamp"`

	// Version is the semantic version of the payload shape, e.g. "1.0.0".
	Version string `json:"version"`

	// CorrelationID groups events belonging to one logical business
	// transaction. Empty when the event is not part of one.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CausationID identifies the event that directly caused this one.
	CausationID string `json:"causation_id,omitempty"`

	// Payload is the type-specific data, validated against the registered
	// schema before acceptance.
	Payload map[string]any `json:"payload"`

	// Metadata is a free-form bag (originating client id, migration trail).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DefaultVersion is the payload version stamped on events created without
// an explicit WithVersion option.
const DefaultVersion = "1.0.0"

// Option configures event creation.
type Option func(*Event)

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) Option {
	return func(e *Event) { e.ID = id }
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) Option {
	return func(e *Event) { e.CausationID = id }
}

// WithTimestamp sets a specific timestamp (default: time.Now().UTC()).
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.Timestamp = t }
}

// WithVersion sets the payload schema version.
func WithVersion(v string) Option {
	return func(e *Event) { e.Version = v }
}

// WithMetadata merges the given entries into the event metadata.
func WithMetadata(meta map[string]string) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			e.Metadata[k] = v
		}
	}
}

// New creates an event of the given type with the given payload.
func New(eventType string, payload map[string]any, opts ...Option) *Event {
	evt := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Version:   DefaultVersion,
		Payload:   payload,
	}
	for _, opt := range opts {
		opt(evt)
	}
	return evt
}

// NewFromParent creates an event caused by a parent event. It inherits the
// parent's correlation ID (falling back to the parent's own ID when the
// parent was the root of the transaction) and records the parent as cause.
func NewFromParent(parent *Event, eventType string, payload map[string]any, opts ...Option) *Event {
	correlation := parent.CorrelationID
	if correlation == "" {
		correlation = parent.ID
	}
	parentOpts := []Option{
		WithCorrelationID(correlation),
		WithCausationID(parent.ID),
	}
	return New(eventType, payload, append(parentOpts, opts...)...)
}

// Clone returns a deep copy. Payload values are copied shallowly; payloads
// are treated as value data and never mutated in place.
func (e *Event) Clone() *Event {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			clone.Payload[k] = v
		}
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// MetadataValue returns the metadata entry for key, or "".
func (e *Event) MetadataValue(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// PayloadString returns the payload field as a string when present.
func (e *Event) PayloadString(key string) (string, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
