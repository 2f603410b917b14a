package benchmarks

import (
	"context"
	"testing"

	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/store"
)

// BenchmarkMemoryStore_Save measures single-event persistence.
func BenchmarkMemoryStore_Save(b *testing.B) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = st.Save(ctx, donation())
	}
}

// BenchmarkMemoryStore_SaveBatch measures batched persistence of 50 events.
func BenchmarkMemoryStore_SaveBatch(b *testing.B) {
	st := store.NewMemoryStore()
	defer st.Close()
	ctx := context.Background()
	events := make([]*event.Event, 50)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := range events {
			events[j] = donation()
		}
		_ = st.SaveBatch(ctx, events)
	}
}

// BenchmarkEventClone measures deep-copying an event with payload and
// metadata.
func BenchmarkEventClone(b *testing.B) {
	evt := event.New("donation.created", map[string]any{
		"campaignId": "c1",
		"amount":     25.0,
		"message":    "good luck",
	}, event.WithMetadata(map[string]string{"clientId": "bench"}))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = evt.Clone()
	}
}
