package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/givebus/givebus/pkg/givebus/event"
)

func TestNew(t *testing.T) {
	evt := event.New("campaign.created", map[string]any{"campaignId": "c1"})

	if evt.ID == "" {
		t.Error("expected auto-generated ID")
	}
	if evt.Type != "campaign.created" {
		t.Errorf("expected type campaign.created, got %s", evt.Type)
	}
	if evt.Version != event.DefaultVersion {
		t.Errorf("expected default version, got %s", evt.Version)
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewWithOptions(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := event.New("donation.received", map[string]any{"donationId": "d1"},
		event.WithEventID("evt-1"),
		event.WithCorrelationID("corr-1"),
		event.WithCausationID("cause-1"),
		event.WithTimestamp(ts),
		event.WithVersion("2.0.0"),
		event.WithMetadata(map[string]string{"clientId": "client-a"}),
	)

	if evt.ID != "evt-1" {
		t.Errorf("expected evt-1, got %s", evt.ID)
	}
	if evt.CorrelationID != "corr-1" || evt.CausationID != "cause-1" {
		t.Errorf("unexpected correlation/causation: %s/%s", evt.CorrelationID, evt.CausationID)
	}
	if !evt.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, evt.Timestamp)
	}
	if evt.Version != "2.0.0" {
		t.Errorf("expected version 2.0.0, got %s", evt.Version)
	}
	if evt.MetadataValue("clientId") != "client-a" {
		t.Errorf("expected clientId metadata, got %q", evt.MetadataValue("clientId"))
	}
}

func TestNewFromParent(t *testing.T) {
	parent := event.New("campaign.created", map[string]any{"campaignId": "c1"})
	child := event.NewFromParent(parent, "campaign.projection.updated", map[string]any{"campaignId": "c1"})

	// Parent had no correlation ID, so its own ID roots the chain.
	if child.CorrelationID != parent.ID {
		t.Errorf("expected correlation %s, got %s", parent.ID, child.CorrelationID)
	}
	if child.CausationID != parent.ID {
		t.Errorf("expected causation %s, got %s", parent.ID, child.CausationID)
	}

	grandchild := event.NewFromParent(child, "campaign.stats.updated", nil)
	if grandchild.CorrelationID != parent.ID {
		t.Errorf("expected correlation inherited from root, got %s", grandchild.CorrelationID)
	}
	if grandchild.CausationID != child.ID {
		t.Errorf("expected causation %s, got %s", child.ID, grandchild.CausationID)
	}
}

func TestClone(t *testing.T) {
	evt := event.New("campaign.created", map[string]any{"campaignId": "c1"},
		event.WithMetadata(map[string]string{"clientId": "a"}))

	clone := evt.Clone()
	clone.Payload["campaignId"] = "c2"
	clone.Metadata["clientId"] = "b"

	if evt.Payload["campaignId"] != "c1" {
		t.Error("clone mutated original payload")
	}
	if evt.Metadata["clientId"] != "a" {
		t.Error("clone mutated original metadata")
	}
}

func TestMatchType(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"campaign.created", "campaign.created", true},
		{"campaign.created", "campaign.updated", false},
		{"*", "campaign.created", true},
		{"*", "donation.received", true},
		{"campaign.*", "campaign.created", true},
		{"campaign.*", "campaign.projection.updated", true},
		{"campaign.*", "campaigns.created", false},
		{"campaign.*", "donation.received", false},
		{"campaign.*", "campaign", false},
	}

	for _, tt := range tests {
		if got := event.MatchType(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("MatchType(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

func TestValidType(t *testing.T) {
	valid := []string{"campaign.created", "user.role.assigned", "payout.requested"}
	invalid := []string{"", "campaign", "campaign.", ".created", "campaign..created"}

	for _, v := range valid {
		if !event.ValidType(v) {
			t.Errorf("expected %q valid", v)
		}
	}
	for _, v := range invalid {
		if event.ValidType(v) {
			t.Errorf("expected %q invalid", v)
		}
	}
}

func TestRegistryValidate(t *testing.T) {
	reg := event.NewRegistry()
	reg.MustRegister(&event.Schema{
		Type:     "campaign.created",
		Required: []string{"campaignId", "userId", "title"},
	})

	ok := event.New("campaign.created", map[string]any{
		"campaignId": "c1", "userId": "u1", "title": "Help Rebuild",
	})
	if err := reg.Validate(ok); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	missing := event.New("campaign.created", map[string]any{"campaignId": "c1"})
	err := reg.Validate(missing)
	var verr *event.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	unknown := event.New("mystery.happened", nil)
	if err := reg.Validate(unknown); !errors.Is(err, event.ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestRegistryCustomValidator(t *testing.T) {
	reg := event.NewRegistry()
	reg.MustRegister(&event.Schema{
		Type:     "donation.received",
		Required: []string{"amount"},
		Validator: func(evt *event.Event) error {
			amount, _ := evt.Payload["amount"].(float64)
			if amount <= 0 {
				return errors.New("amount must be positive")
			}
			return nil
		},
	})

	bad := event.New("donation.received", map[string]any{"amount": float64(-5)})
	if err := reg.Validate(bad); err == nil {
		t.Fatal("expected custom validator to reject negative amount")
	}

	good := event.New("donation.received", map[string]any{"amount": float64(25)})
	if err := reg.Validate(good); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}
}

func TestVersionManagerMigrate(t *testing.T) {
	vm := event.NewVersionManager()

	// 1.0.0 -> 2.0.0: rename goal to goalAmount
	if err := vm.RegisterMigration("campaign.created", "1.0.0", "2.0.0", func(p map[string]any) (map[string]any, error) {
		out := map[string]any{}
		for k, v := range p {
			out[k] = v
		}
		out["goalAmount"] = out["goal"]
		delete(out, "goal")
		return out, nil
	}); err != nil {
		t.Fatal(err)
	}
	// 2.0.0 -> 3.0.0: add visibility default
	if err := vm.RegisterMigration("campaign.created", "2.0.0", "3.0.0", func(p map[string]any) (map[string]any, error) {
		out := map[string]any{}
		for k, v := range p {
			out[k] = v
		}
		if _, ok := out["visibility"]; !ok {
			out["visibility"] = "public"
		}
		return out, nil
	}); err != nil {
		t.Fatal(err)
	}

	evt := event.New("campaign.created", map[string]any{"campaignId": "c1", "goal": 5000})
	migrated, err := vm.Migrate(evt, "3.0.0")
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	if migrated.Version != "3.0.0" {
		t.Errorf("expected version 3.0.0, got %s", migrated.Version)
	}
	if migrated.Payload["goalAmount"] != 5000 {
		t.Errorf("expected goalAmount carried through, got %v", migrated.Payload["goalAmount"])
	}
	if migrated.Payload["visibility"] != "public" {
		t.Errorf("expected visibility default, got %v", migrated.Payload["visibility"])
	}
	if migrated.Metadata["originalVersion"] != "1.0.0" {
		t.Errorf("expected originalVersion trail, got %q", migrated.Metadata["originalVersion"])
	}
	if migrated.Metadata["migratedAt"] == "" {
		t.Error("expected migratedAt trail")
	}

	// Original event is untouched.
	if evt.Version != "1.0.0" {
		t.Errorf("original event version mutated to %s", evt.Version)
	}
	if _, ok := evt.Payload["goalAmount"]; ok {
		t.Error("original event payload mutated")
	}
}

func TestVersionManagerNoPath(t *testing.T) {
	vm := event.NewVersionManager()
	_ = vm.RegisterMigration("campaign.created", "1.0.0", "2.0.0", func(p map[string]any) (map[string]any, error) {
		return p, nil
	})

	evt := event.New("campaign.created", nil, event.WithVersion("1.0.0"))
	if _, err := vm.Migrate(evt, "4.0.0"); !errors.Is(err, event.ErrNoMigrationPath) {
		t.Fatalf("expected ErrNoMigrationPath, got %v", err)
	}

	other := event.New("donation.received", nil)
	if _, err := vm.Migrate(other, "2.0.0"); !errors.Is(err, event.ErrNoMigrationPath) {
		t.Fatalf("expected ErrNoMigrationPath for unregistered type, got %v", err)
	}
}

func TestVersionManagerSameVersion(t *testing.T) {
	vm := event.NewVersionManager()
	evt := event.New("campaign.created", nil, event.WithVersion("2.0.0"))

	migrated, err := vm.Migrate(evt, "2.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if migrated != evt {
		t.Error("expected same event returned when already at target version")
	}
}
