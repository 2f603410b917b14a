package givebus_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/givebus/givebus/pkg/givebus"
	"github.com/givebus/givebus/pkg/givebus/config"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/store"
)

func settingsFromYAML(t *testing.T, yaml string) config.Settings {
	t.Helper()
	cfg, err := config.FromYAML([]byte(yaml))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	return config.LoadSettings(cfg)
}

func TestFromSettingsMemory(t *testing.T) {
	settings := settingsFromYAML(t, `
clientId: settings-test
store:
  driver: memory
`)

	h, err := givebus.FromSettings(settings)
	if err != nil {
		t.Fatalf("FromSettings: %v", err)
	}
	connect(t, h)

	dispatched := 0
	h.Subscribe("campaign.created", func(ctx context.Context, evt *event.Event) error {
		dispatched++
		return nil
	})
	if err := h.Publish(context.Background(), event.New("campaign.created", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if dispatched != 1 {
		t.Fatalf("dispatched = %d, want 1", dispatched)
	}
}

func TestFromSettingsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	settings := settingsFromYAML(t, `
clientId: settings-test
store:
  driver: sqlite
  path: `+path+`
`)

	h, err := givebus.FromSettings(settings)
	if err != nil {
		t.Fatalf("FromSettings: %v", err)
	}
	connect(t, h)

	evt := event.New("campaign.created", map[string]any{"campaignId": "c1"})
	if err := h.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// The event survived into the file-backed store.
	n, err := h.Replay(context.Background(), evt.Timestamp.Add(-1))
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed %d events, want 1", n)
	}
}

func TestFromSettingsRejectsInvalid(t *testing.T) {
	settings := settingsFromYAML(t, `
clientId: settings-test
store:
  driver: postgres
`)
	if _, err := givebus.FromSettings(settings); err == nil {
		t.Fatal("FromSettings accepted an unknown store driver")
	}
}

func TestBatchWriterFromSettings(t *testing.T) {
	settings := settingsFromYAML(t, `
store:
  maxBatch: 10
  flushInterval: 1h
`)
	st := store.NewMemoryStore()
	w := givebus.BatchWriterFromSettings(st, settings)

	w.Enqueue(event.New("campaign.created", nil))
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st.Len() != 1 {
		t.Fatalf("store has %d events, want 1", st.Len())
	}
}

func TestTrackerFromSettings(t *testing.T) {
	settings := settingsFromYAML(t, `
idempotency:
  processingTTL: 1m
`)
	tracker := givebus.TrackerFromSettings(settings)
	defer tracker.Close()

	if !tracker.ShouldProcess("evt-1", "p") {
		t.Fatal("fresh tracker refused the first claim")
	}
	if tracker.ShouldProcess("evt-1", "p") {
		t.Fatal("tracker allowed a duplicate claim")
	}
}
