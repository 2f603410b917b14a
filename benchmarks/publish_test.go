package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/givebus/givebus/pkg/givebus/bus"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/store"
)

func newBus(b *testing.B, subscribers int, pattern string) *bus.Bus {
	b.Helper()
	eb := bus.New(bus.Config{Store: store.NewMemoryStore()})
	if err := eb.Connect(context.Background()); err != nil {
		b.Fatal(err)
	}
	handler := func(ctx context.Context, evt *event.Event) error { return nil }
	for i := 0; i < subscribers; i++ {
		eb.Subscribe(pattern, handler)
	}
	return eb
}

func donation() *event.Event {
	return event.New("donation.created", map[string]any{
		"campaignId": "c1",
		"amount":     25.0,
	})
}

// BenchmarkPublish_1Subscriber publishes to a single exact-match handler.
func BenchmarkPublish_1Subscriber(b *testing.B) {
	eb := newBus(b, 1, "donation.created")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eb.Publish(ctx, donation())
	}
}

// BenchmarkPublish_10Subscribers publishes to ten exact-match handlers.
func BenchmarkPublish_10Subscribers(b *testing.B) {
	eb := newBus(b, 10, "donation.created")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eb.Publish(ctx, donation())
	}
}

// BenchmarkPublish_Wildcard publishes through namespace-wildcard matching.
func BenchmarkPublish_Wildcard(b *testing.B) {
	eb := newBus(b, 10, "donation.*")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eb.Publish(ctx, donation())
	}
}

// BenchmarkPublishBatch_100 persists and dispatches batches of 100 events.
func BenchmarkPublishBatch_100(b *testing.B) {
	eb := newBus(b, 1, "donation.created")
	ctx := context.Background()
	events := make([]*event.Event, 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range events {
			events[j] = donation()
		}
		_ = eb.PublishBatch(ctx, events)
	}
}

// BenchmarkMatchType measures pattern matching across common shapes.
func BenchmarkMatchType(b *testing.B) {
	patterns := []string{"donation.created", "donation.*", "*", "campaign.*"}
	for _, p := range patterns {
		b.Run(fmt.Sprintf("pattern=%s", p), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				event.MatchType(p, "donation.created")
			}
		})
	}
}
