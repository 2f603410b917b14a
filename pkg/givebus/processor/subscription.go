package processor

import (
	"context"
	"fmt"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Subscription event types.
const (
	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionRemoved = "subscription.removed"
)

// Subscription maintains follow-subscription rows: a user following a
// campaign for update notifications.
type Subscription struct {
	deps Deps
	repo SubscriptionRepository
}

var _ Processor = (*Subscription)(nil)

func NewSubscription(deps Deps, repo SubscriptionRepository) *Subscription {
	return &Subscription{deps: deps, repo: repo}
}

func (p *Subscription) Name() string { return "SubscriptionProcessor" }

func (p *Subscription) EventTypes() []string {
	return []string{TypeSubscriptionCreated, TypeSubscriptionRemoved}
}

func (p *Subscription) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		userID, err := requireString(evt, "userId")
		if err != nil {
			return err
		}
		campaignID, err := requireString(evt, "campaignId")
		if err != nil {
			return err
		}

		switch evt.Type {
		case TypeSubscriptionCreated:
			exists, err := p.repo.Exists(ctx, userID, campaignID)
			if err != nil {
				return err
			}
			if exists {
				// Already following, nothing to write.
				return nil
			}
			return p.repo.Insert(ctx, &SubscriptionRecord{
				UserID:     userID,
				CampaignID: campaignID,
				CreatedAt:  evt.Timestamp,
			})
		case TypeSubscriptionRemoved:
			return p.repo.Delete(ctx, userID, campaignID)
		default:
			return fmt.Errorf("unexpected event type %s", evt.Type)
		}
	})
}
