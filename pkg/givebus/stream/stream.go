// Package stream publishes events onto a durable, shared append log for
// out-of-process consumers.
//
// Entries travel as flattened string field maps so any consumer can read
// them without this module's types. The Publisher batches internally and
// reconnects with bounded exponential backoff.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Errors returned by stream components.
var (
	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("stream publisher is not connected")

	// ErrReconnectExhausted is returned after the bounded reconnect
	// attempts are used up. Callers must explicitly reconnect.
	ErrReconnectExhausted = errors.New("stream reconnect attempts exhausted")
)

// Message is one entry read back from the log.
type Message struct {
	// ID is the log-assigned entry identifier, usable as lastID in Read.
	ID string

	// Fields is the flattened event representation.
	Fields map[string]string
}

// Log is the durable append-log service consumed by the Publisher.
// Implementations must be safe for concurrent use.
type Log interface {
	// Publish appends flattened fields to the named stream and returns
	// the assigned entry ID.
	Publish(ctx context.Context, stream string, fields map[string]string) (string, error)

	// Read returns up to count entries after lastID, in append order.
	// An empty lastID reads from the beginning.
	Read(ctx context.Context, stream, lastID string, count int) ([]Message, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Flatten converts an event to the wire field map:
// id, type, payload(JSON), timestamp, version, correlationId, causationId,
// metadata(JSON).
func Flatten(evt *event.Event) (map[string]string, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("flatten payload for %s: %w", evt.ID, err)
	}
	metadata, err := json.Marshal(evt.Metadata)
	if err != nil {
		return nil, fmt.Errorf("flatten metadata for %s: %w", evt.ID, err)
	}

	return map[string]string{
		"id":            evt.ID,
		"type":          evt.Type,
		"payload":       string(payload),
		"timestamp":     evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"version":       evt.Version,
		"correlationId": evt.CorrelationID,
		"causationId":   evt.CausationID,
		"metadata":      string(metadata),
	}, nil
}

// Unflatten reconstructs an event from wire fields.
func Unflatten(fields map[string]string) (*event.Event, error) {
	evt := &event.Event{
		ID:            fields["id"],
		Type:          fields["type"],
		Version:       fields["version"],
		CorrelationID: fields["correlationId"],
		CausationID:   fields["causationId"],
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("stream entry missing id or type")
	}

	if raw := fields["timestamp"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse stream timestamp for %s: %w", evt.ID, err)
		}
		evt.Timestamp = ts
	}
	if raw := fields["payload"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &evt.Payload); err != nil {
			return nil, fmt.Errorf("decode stream payload for %s: %w", evt.ID, err)
		}
	}
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("decode stream metadata for %s: %w", evt.ID, err)
		}
	}
	return evt, nil
}
