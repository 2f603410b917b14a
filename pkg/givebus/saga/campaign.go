package saga

import (
	"context"
	"time"

	"github.com/givebus/givebus/pkg/givebus/processor"
)

// CampaignCreationType is the saga type for new campaigns.
const CampaignCreationType = "campaign.creation"

// CampaignInput carries the fields for a new campaign.
type CampaignInput struct {
	CampaignID string
	OwnerID    string
	Title      string
	GoalAmount float64
	CategoryID string
	Visibility string
}

// CampaignCreationDeps are the collaborators the campaign-creation saga
// writes through. Announce, when set, publishes the campaign.created
// event as the final step; a created campaign that fails to announce is
// rolled back like any other step failure.
type CampaignCreationDeps struct {
	Campaigns     processor.CampaignRepository
	Projections   processor.ProjectionRepository
	Subscriptions processor.SubscriptionRepository
	Announce      func(ctx context.Context) error
}

// NewCampaignCreationSaga builds the campaign-creation definition:
// insert the campaign row, initialize its three projections, subscribe
// the owner to their own campaign, then announce. Each step has a
// compensating delete except the announcement.
func NewCampaignCreationSaga(input CampaignInput, deps CampaignCreationDeps) Definition {
	now := time.Now().UTC()
	if input.Visibility == "" {
		input.Visibility = "public"
	}

	steps := []Step{
		{
			Name: "create-campaign-record",
			Execute: func(ctx context.Context) error {
				return deps.Campaigns.Insert(ctx, &processor.CampaignRecord{
					ID:         input.CampaignID,
					OwnerID:    input.OwnerID,
					Title:      input.Title,
					GoalAmount: input.GoalAmount,
					CategoryID: input.CategoryID,
					Visibility: input.Visibility,
					CreatedAt:  now,
					UpdatedAt:  now,
				})
			},
			Compensate: func(ctx context.Context) error {
				return deps.Campaigns.Delete(ctx, input.CampaignID)
			},
		},
		{
			Name: "initialize-projections",
			Execute: func(ctx context.Context) error {
				if err := deps.Projections.UpsertSummary(ctx, &processor.CampaignSummary{
					CampaignID: input.CampaignID,
					Title:      input.Title,
					GoalAmount: input.GoalAmount,
					Visibility: input.Visibility,
					UpdatedAt:  now,
				}); err != nil {
					return err
				}
				if err := deps.Projections.UpsertStats(ctx, &processor.CampaignStats{
					CampaignID: input.CampaignID,
					UpdatedAt:  now,
				}); err != nil {
					return err
				}
				return deps.Projections.UpsertSearch(ctx, &processor.CampaignSearchDoc{
					CampaignID: input.CampaignID,
					Title:      input.Title,
					CategoryID: input.CategoryID,
					Visibility: input.Visibility,
					UpdatedAt:  now,
				})
			},
			Compensate: func(ctx context.Context) error {
				return deps.Projections.DeleteAll(ctx, input.CampaignID)
			},
		},
		{
			Name: "subscribe-owner",
			Execute: func(ctx context.Context) error {
				return deps.Subscriptions.Insert(ctx, &processor.SubscriptionRecord{
					UserID:     input.OwnerID,
					CampaignID: input.CampaignID,
					CreatedAt:  now,
				})
			},
			Compensate: func(ctx context.Context) error {
				return deps.Subscriptions.Delete(ctx, input.OwnerID, input.CampaignID)
			},
		},
	}

	if deps.Announce != nil {
		steps = append(steps, Step{
			Name:    "announce-campaign",
			Execute: deps.Announce,
		})
	}

	return Definition{Type: CampaignCreationType, Steps: steps}
}
