package processor

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// CampaignRecord is the write-side row for a campaign.
type CampaignRecord struct {
	ID         string
	OwnerID    string
	Title      string
	GoalAmount float64
	CategoryID string
	Visibility string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CampaignSummary is the read-optimized summary projection row.
type CampaignSummary struct {
	CampaignID   string
	Title        string
	GoalAmount   float64
	RaisedAmount float64
	Visibility   string
	UpdatedAt    time.Time
}

// CampaignStats is the aggregate counters projection row.
type CampaignStats struct {
	CampaignID     string
	DonationCount  int
	TotalRaised    float64
	LastDonationAt time.Time
	UpdatedAt      time.Time
}

// CampaignSearchDoc is the search projection row.
type CampaignSearchDoc struct {
	CampaignID string
	Title      string
	CategoryID string
	Visibility string
	UpdatedAt  time.Time
}

// SubscriptionRecord is one user following one campaign.
type SubscriptionRecord struct {
	UserID     string
	CampaignID string
	CreatedAt  time.Time
}

// RoleRecord is one role held by one user.
type RoleRecord struct {
	UserID     string
	Role       string
	AssignedBy string
	AssignedAt time.Time
}

// PayoutRecord tracks a payout request through its states.
type PayoutRecord struct {
	ID         string
	CampaignID string
	Amount     float64
	Status     string
	DecidedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ImageRecord stores uploaded-image metadata.
type ImageRecord struct {
	ID          string
	OwnerID     string
	URL         string
	ContentType string
	SizeBytes   int64
	UploadedAt  time.Time
}

// ProjectUpdateRecord is one update post on a campaign.
type ProjectUpdateRecord struct {
	ID         string
	CampaignID string
	AuthorID   string
	Title      string
	Body       string
	PostedAt   time.Time
}

// CampaignRepository persists campaign write-side rows.
type CampaignRepository interface {
	Insert(ctx context.Context, rec *CampaignRecord) error
	Update(ctx context.Context, rec *CampaignRecord) error
	Get(ctx context.Context, id string) (*CampaignRecord, error)
	Delete(ctx context.Context, id string) error
}

// ProjectionRepository upserts the three campaign projections.
type ProjectionRepository interface {
	UpsertSummary(ctx context.Context, row *CampaignSummary) error
	UpsertStats(ctx context.Context, row *CampaignStats) error
	UpsertSearch(ctx context.Context, row *CampaignSearchDoc) error
	GetSummary(ctx context.Context, campaignID string) (*CampaignSummary, error)
	GetStats(ctx context.Context, campaignID string) (*CampaignStats, error)
	GetSearch(ctx context.Context, campaignID string) (*CampaignSearchDoc, error)
	DeleteAll(ctx context.Context, campaignID string) error
}

// SubscriptionRepository persists follow subscriptions.
type SubscriptionRepository interface {
	Insert(ctx context.Context, rec *SubscriptionRecord) error
	Delete(ctx context.Context, userID, campaignID string) error
	Exists(ctx context.Context, userID, campaignID string) (bool, error)
}

// RoleRepository persists role assignments.
type RoleRepository interface {
	Insert(ctx context.Context, rec *RoleRecord) error
	Delete(ctx context.Context, userID, role string) error
	RolesFor(ctx context.Context, userID string) ([]string, error)
}

// PayoutRepository persists payout requests and their transitions.
type PayoutRepository interface {
	Insert(ctx context.Context, rec *PayoutRecord) error
	Update(ctx context.Context, rec *PayoutRecord) error
	Get(ctx context.Context, id string) (*PayoutRecord, error)
}

// ImageRepository persists image metadata rows.
type ImageRepository interface {
	Insert(ctx context.Context, rec *ImageRecord) error
	Delete(ctx context.Context, id string) error
}

// ProjectUpdateRepository persists campaign update posts.
type ProjectUpdateRepository interface {
	Insert(ctx context.Context, rec *ProjectUpdateRecord) error
	Delete(ctx context.Context, id string) error
}

// AuditLog records privileged actions for compliance traceability.
// Implementations should treat writes as fire-and-forget; callers log
// and swallow audit failures rather than failing the business write.
type AuditLog interface {
	Log(ctx context.Context, actorID, action, resourceType, resourceID string, metadata map[string]string) error
}
