package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Payout event types and states.
const (
	TypePayoutRequested = "payout.requested"
	TypePayoutApproved  = "payout.approved"
	TypePayoutRejected  = "payout.rejected"
	TypePayoutPaid      = "payout.paid"

	PayoutStatusRequested = "requested"
	PayoutStatusApproved  = "approved"
	PayoutStatusRejected  = "rejected"
	PayoutStatusPaid      = "paid"
)

// payoutTransitions maps each state to the states it may move to.
var payoutTransitions = map[string][]string{
	PayoutStatusRequested: {PayoutStatusApproved, PayoutStatusRejected},
	PayoutStatusApproved:  {PayoutStatusPaid},
}

// Payout tracks payout requests through requested → approved/rejected →
// paid. Decisions are audit-logged.
type Payout struct {
	deps  Deps
	repo  PayoutRepository
	audit AuditLog
}

var _ Processor = (*Payout)(nil)

func NewPayout(deps Deps, repo PayoutRepository, audit AuditLog) *Payout {
	return &Payout{deps: deps, repo: repo, audit: audit}
}

func (p *Payout) Name() string { return "PayoutProcessor" }

func (p *Payout) EventTypes() []string { return []string{"payout.*"} }

func (p *Payout) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		if evt.Type == TypePayoutRequested {
			return p.insert(ctx, evt)
		}
		return p.transition(ctx, evt)
	})
}

func (p *Payout) insert(ctx context.Context, evt *event.Event) error {
	id, err := requireString(evt, "payoutId")
	if err != nil {
		return err
	}
	campaignID, err := requireString(evt, "campaignId")
	if err != nil {
		return err
	}
	amount, ok := payloadFloat(evt, "amount")
	if !ok || amount <= 0 {
		return &event.ValidationError{
			EventID: evt.ID, EventType: evt.Type,
			Field: "amount", Message: "payout amount must be a positive number",
		}
	}
	return p.repo.Insert(ctx, &PayoutRecord{
		ID:         id,
		CampaignID: campaignID,
		Amount:     amount,
		Status:     PayoutStatusRequested,
		CreatedAt:  evt.Timestamp,
		UpdatedAt:  evt.Timestamp,
	})
}

func (p *Payout) transition(ctx context.Context, evt *event.Event) error {
	id, err := requireString(evt, "payoutId")
	if err != nil {
		return err
	}
	var next string
	switch evt.Type {
	case TypePayoutApproved:
		next = PayoutStatusApproved
	case TypePayoutRejected:
		next = PayoutStatusRejected
	case TypePayoutPaid:
		next = PayoutStatusPaid
	default:
		return fmt.Errorf("unexpected event type %s", evt.Type)
	}

	rec, err := p.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(rec.Status, next) {
		return fmt.Errorf("payout %s: illegal transition %s -> %s", id, rec.Status, next)
	}

	actorID, _ := evt.PayloadString("actorId")
	rec.Status = next
	rec.DecidedBy = actorID
	rec.UpdatedAt = evt.Timestamp
	if err := p.repo.Update(ctx, rec); err != nil {
		return err
	}

	if p.audit != nil && actorID != "" {
		err := p.audit.Log(ctx, actorID, "payout."+next, "payout", id, map[string]string{
			"campaignId": rec.CampaignID,
			"eventId":    evt.ID,
		})
		if err != nil {
			p.deps.logger().Warn("audit write failed",
				slog.String("action", "payout."+next),
				slog.String("payout_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func transitionAllowed(from, to string) bool {
	for _, allowed := range payoutTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

