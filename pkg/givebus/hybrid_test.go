package givebus_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/givebus/givebus/pkg/givebus"
	"github.com/givebus/givebus/pkg/givebus/breaker"
	"github.com/givebus/givebus/pkg/givebus/dlq"
	"github.com/givebus/givebus/pkg/givebus/event"
	"github.com/givebus/givebus/pkg/givebus/idempotency"
	"github.com/givebus/givebus/pkg/givebus/processor"
	"github.com/givebus/givebus/pkg/givebus/store"
	"github.com/givebus/givebus/pkg/givebus/stream"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (t *recordingTrigger) Invoke(ctx context.Context, function string, events []*event.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return t.fail
}

func (t *recordingTrigger) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func newTracker(t *testing.T) *idempotency.Tracker {
	t.Helper()
	tracker := idempotency.NewTracker(idempotency.Config{})
	t.Cleanup(tracker.Close)
	return tracker
}

func connect(t *testing.T, h *givebus.HybridBus) {
	t.Helper()
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func campaignCreatedEvent() *event.Event {
	return event.New("campaign.created", map[string]any{
		"campaignId": "c1",
		"userId":     "u1",
		"title":      "Help Rebuild",
		"goalAmount": 5000.0,
		"categoryId": "cat1",
		"visibility": "public",
	})
}

func TestCampaignCreatedEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tracker := newTracker(t)
	deps := processor.Deps{Tracker: tracker}

	campaigns := processor.NewMemoryCampaignRepository()
	projections := processor.NewMemoryProjectionRepository()

	registry := event.NewRegistry()
	registry.MustRegister(&event.Schema{
		Type:     "campaign.created",
		Required: []string{"campaignId", "userId", "title"},
	})

	log := stream.NewMemoryLog()
	publisher := stream.NewPublisher(log, stream.PublisherConfig{
		FlushInterval: time.Hour, // flush manually in the test
	})
	trigger := &recordingTrigger{}

	h, err := givebus.New(givebus.Config{
		ClientID:  "proc-test",
		Store:     st,
		Registry:  registry,
		Publisher: publisher,
		Trigger:   trigger,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	givebus.RegisterProcessors(h, nil,
		processor.NewCampaignWriter(deps, campaigns),
		processor.NewSummaryProjection(deps, projections),
		processor.NewStatsProjection(deps, projections),
		processor.NewSearchProjection(deps, projections),
	)

	evt := campaignCreatedEvent()
	if err := h.Publish(ctx, evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Campaign write table has the row.
	rec, err := campaigns.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("campaign row: %v", err)
	}
	if rec.OwnerID != "u1" || rec.GoalAmount != 5000 {
		t.Fatalf("campaign row = %+v", rec)
	}

	// All three projections have a row keyed by the campaign.
	if _, err := projections.GetSummary(ctx, "c1"); err != nil {
		t.Fatalf("summary projection: %v", err)
	}
	if _, err := projections.GetStats(ctx, "c1"); err != nil {
		t.Fatalf("stats projection: %v", err)
	}
	if _, err := projections.GetSearch(ctx, "c1"); err != nil {
		t.Fatalf("search projection: %v", err)
	}

	// The tracker refuses a second processing attempt.
	if tracker.ShouldProcess(evt.ID, "CampaignWriteProcessor") {
		t.Fatal("tracker allows reprocessing the same event")
	}

	// The event is durable and stamped with our client id.
	stored, err := st.Events(ctx, time.Time{})
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored events = %d (%v), want 1", len(stored), err)
	}
	if stored[0].MetadataValue(givebus.MetadataClientID) != "proc-test" {
		t.Fatalf("clientId metadata = %q", stored[0].MetadataValue(givebus.MetadataClientID))
	}

	// Stream and trigger both saw the event.
	if err := publisher.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if log.Len("events") != 1 {
		t.Fatalf("stream entries = %d, want 1", log.Len("events"))
	}
	if trigger.Calls() != 1 {
		t.Fatalf("trigger calls = %d, want 1", trigger.Calls())
	}
}

func TestLoopPrevention(t *testing.T) {
	ctx := context.Background()
	h, err := givebus.New(givebus.Config{
		ClientID: "proc-a",
		Store:    store.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	calls := 0
	h.Subscribe("campaign.created", func(ctx context.Context, evt *event.Event) error {
		calls++
		return nil
	})

	feed := givebus.NewMemoryChangeFeed()
	cancel, err := h.ListenChangeFeed(ctx, feed)
	if err != nil {
		t.Fatalf("ListenChangeFeed: %v", err)
	}
	defer cancel()

	// An event this process authored comes back through the feed and is
	// dropped.
	own := event.New("campaign.created", map[string]any{"campaignId": "c1"},
		event.WithMetadata(map[string]string{givebus.MetadataClientID: "proc-a"}))
	feed.Emit(own)
	if calls != 0 {
		t.Fatalf("own event was dispatched %d times, want 0", calls)
	}

	// Another process's event is dispatched exactly once.
	foreign := event.New("campaign.created", map[string]any{"campaignId": "c2"},
		event.WithMetadata(map[string]string{givebus.MetadataClientID: "proc-b"}))
	feed.Emit(foreign)
	if calls != 1 {
		t.Fatalf("foreign event dispatched %d times, want 1", calls)
	}
}

func TestTriggerFailuresAreSwallowedAndBreakerOpens(t *testing.T) {
	ctx := context.Background()
	trigger := &recordingTrigger{fail: errors.New("remote down")}

	h, err := givebus.New(givebus.Config{
		ClientID:      "proc-test",
		Store:         store.NewMemoryStore(),
		Trigger:       trigger,
		BreakerConfig: breaker.Config{Threshold: 2, ResetTimeout: time.Hour},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	for i := 0; i < 3; i++ {
		evt := event.New("campaign.created", map[string]any{"campaignId": "c1"})
		if err := h.Publish(ctx, evt); err != nil {
			t.Fatalf("Publish %d: %v (trigger failures must be swallowed)", i, err)
		}
	}

	if h.TriggerState() != breaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", h.TriggerState())
	}
	// Threshold was 2: the third publish found the breaker open and
	// skipped the call.
	if trigger.Calls() != 2 {
		t.Fatalf("trigger calls = %d, want 2", trigger.Calls())
	}
}

func TestPublishFailsWhenStoreFails(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h, err := givebus.New(givebus.Config{ClientID: "proc-test", Store: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	dispatched := false
	h.Subscribe("*", func(ctx context.Context, evt *event.Event) error {
		dispatched = true
		return nil
	})

	err = h.Publish(context.Background(), event.New("campaign.created", nil))
	if !errors.Is(err, store.ErrStoreClosed) {
		t.Fatalf("Publish err = %v, want ErrStoreClosed", err)
	}
	if dispatched {
		t.Fatal("event dispatched despite persistence failure")
	}
}

func TestProcessorFailureIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)
	deps := processor.Deps{Tracker: tracker}

	manager, err := dlq.NewManager(dlq.Config{Store: dlq.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h, err := givebus.New(givebus.Config{
		ClientID: "proc-test",
		Store:    store.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	// The payout processor fails on a transition for an unknown payout.
	payouts := processor.NewMemoryPayoutRepository()
	givebus.RegisterProcessors(h, manager, processor.NewPayout(deps, payouts, nil))

	evt := event.New("payout.approved", map[string]any{
		"payoutId": "missing",
		"actorId":  "admin1",
	})
	if err := h.Publish(ctx, evt); err == nil {
		t.Fatal("Publish returned nil, want handler error")
	}

	entries, err := manager.Entries(ctx, "PayoutProcessor")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.ID != evt.ID {
		t.Fatalf("dead-letter entries = %+v, want the failed event", entries)
	}
}

func TestReprocessAllRetriesOnlyTheFailedProcessor(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)
	deps := processor.Deps{Tracker: tracker}

	manager, err := dlq.NewManager(dlq.Config{Store: dlq.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h, err := givebus.New(givebus.Config{
		ClientID: "proc-test",
		Store:    store.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	payouts := processor.NewMemoryPayoutRepository()
	payoutProc := processor.NewPayout(deps, payouts, nil)
	givebus.RegisterProcessors(h, manager, payoutProc)

	// Another subscriber shares the payout patterns; the retry must not
	// reach it.
	bystanderCalls := 0
	h.Subscribe("payout.*", func(ctx context.Context, evt *event.Event) error {
		bystanderCalls++
		return nil
	})

	// Approving before the request exists fails and is dead-lettered.
	approval := event.New("payout.approved", map[string]any{
		"payoutId": "p1",
		"actorId":  "admin1",
	})
	if err := h.Publish(ctx, approval); err == nil {
		t.Fatal("Publish returned nil, want handler error")
	}
	if bystanderCalls != 1 {
		t.Fatalf("bystander calls after publish = %d, want 1", bystanderCalls)
	}

	// The missing request arrives, then the queue is drained.
	request := event.New("payout.requested", map[string]any{
		"payoutId":   "p1",
		"campaignId": "c1",
		"amount":     250.0,
	})
	if err := h.Publish(ctx, request); err != nil {
		t.Fatalf("Publish request: %v", err)
	}

	result, err := givebus.ReprocessAll(ctx, manager, tracker, payoutProc)
	if err != nil {
		t.Fatalf("ReprocessAll: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 succeeded", result)
	}

	rec, err := payouts.Get(ctx, "p1")
	if err != nil || rec.Status != processor.PayoutStatusApproved {
		t.Fatalf("payout = %+v (%v), want approved", rec, err)
	}
	entries, err := manager.Entries(ctx, "PayoutProcessor")
	if err != nil || len(entries) != 0 {
		t.Fatalf("dead letters after reprocess = %d (%v), want 0", len(entries), err)
	}
	// Only the payout processor handled the retry.
	if bystanderCalls != 2 {
		t.Fatalf("bystander calls = %d, want 2 (both publishes, no retry)", bystanderCalls)
	}
}

func TestAuthorizationFailureIsNotDeadLettered(t *testing.T) {
	ctx := context.Background()
	deps := processor.Deps{Tracker: newTracker(t)}

	manager, err := dlq.NewManager(dlq.Config{Store: dlq.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	h, err := givebus.New(givebus.Config{
		ClientID: "proc-test",
		Store:    store.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	connect(t, h)

	roles := processor.NewMemoryRoleRepository()
	givebus.RegisterProcessors(h, manager, processor.NewRoleAssignment(deps, roles, nil))

	evt := event.New("role.assigned", map[string]any{
		"actorId": "nobody",
		"userId":  "u1",
		"role":    "admin",
	})
	if err := h.Publish(ctx, evt); err == nil {
		t.Fatal("Publish returned nil, want authorization error")
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("dead-letter stats = %+v, want empty", stats)
	}
}
