package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/givebus/givebus/pkg/givebus/event"
)

// Campaign event types.
const (
	TypeCampaignCreated = "campaign.created"
	TypeCampaignUpdated = "campaign.updated"
	TypeCampaignDeleted = "campaign.deleted"
	TypeDonationCreated = "donation.created"
)

// CampaignWriter maintains the campaign write-side table.
type CampaignWriter struct {
	deps Deps
	repo CampaignRepository
}

var _ Processor = (*CampaignWriter)(nil)

// NewCampaignWriter creates the campaign write processor.
func NewCampaignWriter(deps Deps, repo CampaignRepository) *CampaignWriter {
	return &CampaignWriter{deps: deps, repo: repo}
}

func (p *CampaignWriter) Name() string { return "CampaignWriteProcessor" }

func (p *CampaignWriter) EventTypes() []string {
	return []string{TypeCampaignCreated, TypeCampaignUpdated, TypeCampaignDeleted}
}

func (p *CampaignWriter) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		switch evt.Type {
		case TypeCampaignCreated:
			return p.insert(ctx, evt)
		case TypeCampaignUpdated:
			return p.update(ctx, evt)
		case TypeCampaignDeleted:
			id, err := requireString(evt, "campaignId")
			if err != nil {
				return err
			}
			return p.repo.Delete(ctx, id)
		default:
			return fmt.Errorf("unexpected event type %s", evt.Type)
		}
	})
}

func (p *CampaignWriter) insert(ctx context.Context, evt *event.Event) error {
	rec, err := campaignFromEvent(evt)
	if err != nil {
		return err
	}
	rec.CreatedAt = evt.Timestamp
	rec.UpdatedAt = evt.Timestamp
	return p.repo.Insert(ctx, rec)
}

func (p *CampaignWriter) update(ctx context.Context, evt *event.Event) error {
	id, err := requireString(evt, "campaignId")
	if err != nil {
		return err
	}
	rec, err := p.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if title, ok := evt.PayloadString("title"); ok {
		rec.Title = title
	}
	if goal, ok := payloadFloat(evt, "goalAmount"); ok {
		rec.GoalAmount = goal
	}
	if category, ok := evt.PayloadString("categoryId"); ok {
		rec.CategoryID = category
	}
	if visibility, ok := evt.PayloadString("visibility"); ok {
		rec.Visibility = visibility
	}
	rec.UpdatedAt = evt.Timestamp
	return p.repo.Update(ctx, rec)
}

func campaignFromEvent(evt *event.Event) (*CampaignRecord, error) {
	id, err := requireString(evt, "campaignId")
	if err != nil {
		return nil, err
	}
	owner, err := requireString(evt, "userId")
	if err != nil {
		return nil, err
	}
	title, err := requireString(evt, "title")
	if err != nil {
		return nil, err
	}
	goal, _ := payloadFloat(evt, "goalAmount")
	category, _ := evt.PayloadString("categoryId")
	visibility, ok := evt.PayloadString("visibility")
	if !ok {
		visibility = "public"
	}
	return &CampaignRecord{
		ID:         id,
		OwnerID:    owner,
		Title:      title,
		GoalAmount: goal,
		CategoryID: category,
		Visibility: visibility,
	}, nil
}

// SummaryProjection maintains the campaign summary read model. Donations
// roll up into the raised amount.
type SummaryProjection struct {
	deps Deps
	repo ProjectionRepository
}

var _ Processor = (*SummaryProjection)(nil)

func NewSummaryProjection(deps Deps, repo ProjectionRepository) *SummaryProjection {
	return &SummaryProjection{deps: deps, repo: repo}
}

func (p *SummaryProjection) Name() string { return "SummaryProjectionProcessor" }

func (p *SummaryProjection) EventTypes() []string {
	return []string{"campaign.*", TypeDonationCreated}
}

func (p *SummaryProjection) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		switch evt.Type {
		case TypeCampaignCreated, TypeCampaignUpdated:
			return p.upsertFromCampaign(ctx, evt)
		case TypeCampaignDeleted:
			id, err := requireString(evt, "campaignId")
			if err != nil {
				return err
			}
			return p.repo.DeleteAll(ctx, id)
		case TypeDonationCreated:
			return p.applyDonation(ctx, evt)
		default:
			// Other campaign.* events carry nothing the summary needs.
			return nil
		}
	})
}

func (p *SummaryProjection) upsertFromCampaign(ctx context.Context, evt *event.Event) error {
	id, err := requireString(evt, "campaignId")
	if err != nil {
		return err
	}
	row, err := p.repo.GetSummary(ctx, id)
	if errors.Is(err, ErrNotFound) {
		row = &CampaignSummary{CampaignID: id}
	} else if err != nil {
		return err
	}
	if title, ok := evt.PayloadString("title"); ok {
		row.Title = title
	}
	if goal, ok := payloadFloat(evt, "goalAmount"); ok {
		row.GoalAmount = goal
	}
	if visibility, ok := evt.PayloadString("visibility"); ok {
		row.Visibility = visibility
	}
	row.UpdatedAt = evt.Timestamp
	return p.repo.UpsertSummary(ctx, row)
}

func (p *SummaryProjection) applyDonation(ctx context.Context, evt *event.Event) error {
	id, err := requireString(evt, "campaignId")
	if err != nil {
		return err
	}
	amount, ok := payloadFloat(evt, "amount")
	if !ok {
		return &event.ValidationError{
			EventID: evt.ID, EventType: evt.Type,
			Field: "amount", Message: "donation amount is missing or not numeric",
		}
	}
	row, err := p.repo.GetSummary(ctx, id)
	if errors.Is(err, ErrNotFound) {
		row = &CampaignSummary{CampaignID: id}
	} else if err != nil {
		return err
	}
	row.RaisedAmount += amount
	row.UpdatedAt = evt.Timestamp
	return p.repo.UpsertSummary(ctx, row)
}

// StatsProjection maintains donation counters per campaign.
type StatsProjection struct {
	deps Deps
	repo ProjectionRepository
}

var _ Processor = (*StatsProjection)(nil)

func NewStatsProjection(deps Deps, repo ProjectionRepository) *StatsProjection {
	return &StatsProjection{deps: deps, repo: repo}
}

func (p *StatsProjection) Name() string { return "StatsProjectionProcessor" }

func (p *StatsProjection) EventTypes() []string {
	return []string{TypeCampaignCreated, TypeDonationCreated}
}

func (p *StatsProjection) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		id, err := requireString(evt, "campaignId")
		if err != nil {
			return err
		}
		row, err := p.repo.GetStats(ctx, id)
		if errors.Is(err, ErrNotFound) {
			row = &CampaignStats{CampaignID: id}
		} else if err != nil {
			return err
		}
		if evt.Type == TypeDonationCreated {
			amount, _ := payloadFloat(evt, "amount")
			row.DonationCount++
			row.TotalRaised += amount
			row.LastDonationAt = evt.Timestamp
		}
		row.UpdatedAt = evt.Timestamp
		return p.repo.UpsertStats(ctx, row)
	})
}

// SearchProjection maintains the search index rows for campaigns.
type SearchProjection struct {
	deps Deps
	repo ProjectionRepository
}

var _ Processor = (*SearchProjection)(nil)

func NewSearchProjection(deps Deps, repo ProjectionRepository) *SearchProjection {
	return &SearchProjection{deps: deps, repo: repo}
}

func (p *SearchProjection) Name() string { return "SearchProjectionProcessor" }

func (p *SearchProjection) EventTypes() []string {
	return []string{TypeCampaignCreated, TypeCampaignUpdated}
}

func (p *SearchProjection) Handle(ctx context.Context, evt *event.Event) error {
	return runIdempotent(ctx, p.deps, p.Name(), evt, func(ctx context.Context) error {
		id, err := requireString(evt, "campaignId")
		if err != nil {
			return err
		}
		doc, err := p.repo.GetSearch(ctx, id)
		if errors.Is(err, ErrNotFound) {
			doc = &CampaignSearchDoc{CampaignID: id}
		} else if err != nil {
			return err
		}
		if title, ok := evt.PayloadString("title"); ok {
			doc.Title = title
		}
		if category, ok := evt.PayloadString("categoryId"); ok {
			doc.CategoryID = category
		}
		if visibility, ok := evt.PayloadString("visibility"); ok {
			doc.Visibility = visibility
		}
		doc.UpdatedAt = evt.Timestamp
		return p.repo.UpsertSearch(ctx, doc)
	})
}
