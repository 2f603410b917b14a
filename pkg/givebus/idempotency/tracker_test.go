package idempotency

import (
	"testing"
	"time"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker(Config{
		ProcessingTTL: time.Minute,
		CompletedTTL:  time.Hour,
		SweepInterval: time.Hour, // sweep manually in tests
	})
	tr.now = func() time.Time { return now }
	t.Cleanup(tr.Close)
	return tr, &now
}

func TestClaimBeforeWork(t *testing.T) {
	tr, _ := newTestTracker(t)

	if !tr.ShouldProcess("evt-1", "CampaignWriteProcessor") {
		t.Fatal("first caller must claim the slot")
	}
	if tr.ShouldProcess("evt-1", "CampaignWriteProcessor") {
		t.Fatal("second caller must be refused while the claim is live")
	}

	// Same event, different processor is an independent slot.
	if !tr.ShouldProcess("evt-1", "ProjectionProcessor") {
		t.Fatal("different processor must get its own claim")
	}

	status, _, ok := tr.Status("evt-1", "CampaignWriteProcessor")
	if !ok || status != StatusProcessing {
		t.Fatalf("expected processing status, got %v %v", status, ok)
	}
}

func TestTerminalMarkers(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ShouldProcess("evt-1", "p")
	tr.MarkComplete("evt-1", "p")

	status, _, ok := tr.Status("evt-1", "p")
	if !ok || status != StatusCompleted {
		t.Fatalf("expected completed, got %v %v", status, ok)
	}
	if tr.ShouldProcess("evt-1", "p") {
		t.Fatal("completed marker must still refuse reprocessing")
	}

	tr.ShouldProcess("evt-2", "p")
	tr.MarkFailed("evt-2", "p", "write timeout")
	status, reason, ok := tr.Status("evt-2", "p")
	if !ok || status != StatusFailed || reason != "write timeout" {
		t.Fatalf("expected failed with reason, got %v %q %v", status, reason, ok)
	}
	if tr.ShouldProcess("evt-2", "p") {
		t.Fatal("failed marker must refuse reprocessing while live")
	}

	// A deliberate retry clears the marker first.
	tr.Clear("evt-2", "p")
	if !tr.ShouldProcess("evt-2", "p") {
		t.Fatal("cleared marker must allow reprocessing")
	}
}

func TestProcessingLeaseExpiry(t *testing.T) {
	tr, now := newTestTracker(t)

	tr.ShouldProcess("evt-1", "p")
	// Simulate a crash: no terminal marker written. After the processing
	// TTL the redelivery is treated as novel.
	*now = now.Add(2 * time.Minute)

	if !tr.ShouldProcess("evt-1", "p") {
		t.Fatal("expired processing lease must allow a retry")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	tr, now := newTestTracker(t)

	tr.ShouldProcess("evt-1", "p")
	tr.ShouldProcess("evt-2", "p")
	tr.MarkComplete("evt-2", "p")

	*now = now.Add(2 * time.Minute) // past processing TTL, before completed TTL
	tr.removeExpired()

	if tr.Len() != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", tr.Len())
	}
	if _, _, ok := tr.Status("evt-2", "p"); !ok {
		t.Fatal("completed entry should survive the sweep")
	}

	*now = now.Add(2 * time.Hour)
	tr.removeExpired()
	if tr.Len() != 0 {
		t.Fatalf("expected empty tracker, got %d entries", tr.Len())
	}
}

func TestConcurrentClaims(t *testing.T) {
	tr := NewTracker(Config{SweepInterval: time.Hour})
	t.Cleanup(tr.Close)

	const goroutines = 32
	results := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			results <- tr.ShouldProcess("evt-1", "p")
		}()
	}

	claims := 0
	for i := 0; i < goroutines; i++ {
		if <-results {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected exactly one claim, got %d", claims)
	}
}
