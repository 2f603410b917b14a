package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func newTestPublisher(log *MemoryLog) *Publisher {
	p := NewPublisher(log, PublisherConfig{
		Stream:             "events",
		MaxBatch:           100,
		FlushInterval:      time.Hour, // flush manually
		MaxConnectAttempts: 3,
		InitialBackoff:     time.Millisecond,
	})
	p.sleep = noSleep
	return p
}

func TestFlattenRoundTrip(t *testing.T) {
	evt := event.New("campaign.created",
		map[string]any{"campaignId": "c1", "goalAmount": float64(5000)},
		event.WithCorrelationID("corr-1"),
		event.WithMetadata(map[string]string{"clientId": "client-a"}))

	fields, err := Flatten(evt)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	for _, key := range []string{"id", "type", "payload", "timestamp", "version", "correlationId", "causationId", "metadata"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing wire field %q", key)
		}
	}

	back, err := Unflatten(fields)
	if err != nil {
		t.Fatalf("unflatten: %v", err)
	}
	if back.ID != evt.ID || back.Type != evt.Type || back.CorrelationID != "corr-1" {
		t.Fatalf("identity lost: %+v", back)
	}
	if back.Payload["campaignId"] != "c1" || back.Payload["goalAmount"] != float64(5000) {
		t.Fatalf("payload lost: %+v", back.Payload)
	}
	if back.Metadata["clientId"] != "client-a" {
		t.Fatalf("metadata lost: %+v", back.Metadata)
	}
	if !back.Timestamp.Equal(evt.Timestamp) {
		t.Fatalf("timestamp lost: %v vs %v", back.Timestamp, evt.Timestamp)
	}
}

func TestPublisherConnectBackoff(t *testing.T) {
	log := NewMemoryLog()
	log.FailNextPings(2)
	p := newTestPublisher(log)
	defer p.Close()

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed on third attempt, got %v", err)
	}
	if !p.IsConnected() {
		t.Fatal("expected connected state")
	}
}

func TestPublisherConnectExhausted(t *testing.T) {
	log := NewMemoryLog()
	log.FailNextPings(3)
	p := newTestPublisher(log)

	err := p.Connect(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	if p.IsConnected() {
		t.Fatal("expected disconnected state after exhausting attempts")
	}

	if err := p.Publish(event.New("a.b", nil)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	// An explicit reconnect recovers.
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("explicit reconnect failed: %v", err)
	}
	defer p.Close()
}

func TestPublisherFlushRequeuesAtFront(t *testing.T) {
	log := NewMemoryLog()
	p := newTestPublisher(log)
	defer p.Close()

	if err := p.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	first := event.New("a.b", nil, event.WithEventID("evt-1"))
	second := event.New("a.b", nil, event.WithEventID("evt-2"))
	if err := p.Publish(first); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish(second); err != nil {
		t.Fatal(err)
	}

	log.FailNextPublishes(1)
	if err := p.Flush(context.Background()); err == nil {
		t.Fatal("expected flush to fail")
	}
	if p.Pending() != 2 {
		t.Fatalf("expected both entries requeued, got %d", p.Pending())
	}

	if err := p.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}

	msgs, err := log.Read(context.Background(), "events", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Fields["id"] != "evt-1" || msgs[1].Fields["id"] != "evt-2" {
		t.Fatalf("expected order preserved, got %+v", msgs)
	}
}

func TestMemoryLogReadAfterLastID(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	id1, _ := log.Publish(ctx, "events", map[string]string{"id": "a"})
	_, _ = log.Publish(ctx, "events", map[string]string{"id": "b"})
	_, _ = log.Publish(ctx, "events", map[string]string{"id": "c"})

	msgs, err := log.Read(ctx, "events", id1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Fields["id"] != "b" {
		t.Fatalf("expected single entry after %s, got %+v", id1, msgs)
	}
}
