package processor

import (
	"context"
	"fmt"
	"sync"
)

// In-memory repository adapters. Each counts its writes so tests can
// assert that a redelivered event performed no additional writes.

// MemoryCampaignRepository keeps campaign rows in a map.
type MemoryCampaignRepository struct {
	mu     sync.Mutex
	rows   map[string]*CampaignRecord
	writes int
}

var _ CampaignRepository = (*MemoryCampaignRepository)(nil)

func NewMemoryCampaignRepository() *MemoryCampaignRepository {
	return &MemoryCampaignRepository{rows: make(map[string]*CampaignRecord)}
}

func (r *MemoryCampaignRepository) Insert(ctx context.Context, rec *CampaignRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[rec.ID]; exists {
		return fmt.Errorf("campaign %s already exists", rec.ID)
	}
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryCampaignRepository) Update(ctx context.Context, rec *CampaignRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[rec.ID]; !exists {
		return ErrNotFound
	}
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryCampaignRepository) Get(ctx context.Context, id string) (*CampaignRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MemoryCampaignRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	r.writes++
	return nil
}

// Writes returns the number of write calls performed.
func (r *MemoryCampaignRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// Len returns the number of stored campaigns.
func (r *MemoryCampaignRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// MemoryProjectionRepository keeps the three projections in maps.
type MemoryProjectionRepository struct {
	mu      sync.Mutex
	summary map[string]*CampaignSummary
	stats   map[string]*CampaignStats
	search  map[string]*CampaignSearchDoc
	writes  int
}

var _ ProjectionRepository = (*MemoryProjectionRepository)(nil)

func NewMemoryProjectionRepository() *MemoryProjectionRepository {
	return &MemoryProjectionRepository{
		summary: make(map[string]*CampaignSummary),
		stats:   make(map[string]*CampaignStats),
		search:  make(map[string]*CampaignSearchDoc),
	}
}

func (r *MemoryProjectionRepository) UpsertSummary(ctx context.Context, row *CampaignSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *row
	r.summary[row.CampaignID] = &c
	r.writes++
	return nil
}

func (r *MemoryProjectionRepository) UpsertStats(ctx context.Context, row *CampaignStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *row
	r.stats[row.CampaignID] = &c
	r.writes++
	return nil
}

func (r *MemoryProjectionRepository) UpsertSearch(ctx context.Context, row *CampaignSearchDoc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *row
	r.search[row.CampaignID] = &c
	r.writes++
	return nil
}

func (r *MemoryProjectionRepository) GetSummary(ctx context.Context, campaignID string) (*CampaignSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.summary[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *row
	return &c, nil
}

func (r *MemoryProjectionRepository) GetStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.stats[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *row
	return &c, nil
}

func (r *MemoryProjectionRepository) GetSearch(ctx context.Context, campaignID string) (*CampaignSearchDoc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.search[campaignID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *row
	return &c, nil
}

func (r *MemoryProjectionRepository) DeleteAll(ctx context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.summary, campaignID)
	delete(r.stats, campaignID)
	delete(r.search, campaignID)
	r.writes++
	return nil
}

func (r *MemoryProjectionRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// MemorySubscriptionRepository keeps follow rows keyed by user+campaign.
type MemorySubscriptionRepository struct {
	mu     sync.Mutex
	rows   map[string]*SubscriptionRecord
	writes int
}

var _ SubscriptionRepository = (*MemorySubscriptionRepository)(nil)

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{rows: make(map[string]*SubscriptionRecord)}
}

func (r *MemorySubscriptionRepository) Insert(ctx context.Context, rec *SubscriptionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	r.rows[rec.UserID+"|"+rec.CampaignID] = &c
	r.writes++
	return nil
}

func (r *MemorySubscriptionRepository) Delete(ctx context.Context, userID, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, userID+"|"+campaignID)
	r.writes++
	return nil
}

func (r *MemorySubscriptionRepository) Exists(ctx context.Context, userID, campaignID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[userID+"|"+campaignID]
	return ok, nil
}

func (r *MemorySubscriptionRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// MemoryRoleRepository keeps role assignments per user.
type MemoryRoleRepository struct {
	mu     sync.Mutex
	roles  map[string][]string
	byKey  map[string]*RoleRecord
	writes int
}

var _ RoleRepository = (*MemoryRoleRepository)(nil)

func NewMemoryRoleRepository() *MemoryRoleRepository {
	return &MemoryRoleRepository{
		roles: make(map[string][]string),
		byKey: make(map[string]*RoleRecord),
	}
}

// Seed grants a role directly, bypassing authorization. For wiring
// bootstrap admins and for tests.
func (r *MemoryRoleRepository) Seed(userID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(&RoleRecord{UserID: userID, Role: role})
}

func (r *MemoryRoleRepository) Insert(ctx context.Context, rec *RoleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(rec)
	r.writes++
	return nil
}

func (r *MemoryRoleRepository) addLocked(rec *RoleRecord) {
	key := rec.UserID + "|" + rec.Role
	if _, exists := r.byKey[key]; exists {
		return
	}
	c := *rec
	r.byKey[key] = &c
	r.roles[rec.UserID] = append(r.roles[rec.UserID], rec.Role)
}

func (r *MemoryRoleRepository) Delete(ctx context.Context, userID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, userID+"|"+role)
	kept := r.roles[userID][:0]
	for _, held := range r.roles[userID] {
		if held != role {
			kept = append(kept, held)
		}
	}
	r.roles[userID] = kept
	r.writes++
	return nil
}

func (r *MemoryRoleRepository) RolesFor(ctx context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.roles[userID]...), nil
}

func (r *MemoryRoleRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// MemoryPayoutRepository keeps payout requests in a map.
type MemoryPayoutRepository struct {
	mu     sync.Mutex
	rows   map[string]*PayoutRecord
	writes int
}

var _ PayoutRepository = (*MemoryPayoutRepository)(nil)

func NewMemoryPayoutRepository() *MemoryPayoutRepository {
	return &MemoryPayoutRepository{rows: make(map[string]*PayoutRecord)}
}

func (r *MemoryPayoutRepository) Insert(ctx context.Context, rec *PayoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[rec.ID]; exists {
		return fmt.Errorf("payout %s already exists", rec.ID)
	}
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryPayoutRepository) Update(ctx context.Context, rec *PayoutRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[rec.ID]; !exists {
		return ErrNotFound
	}
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryPayoutRepository) Get(ctx context.Context, id string) (*PayoutRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r *MemoryPayoutRepository) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

// MemoryImageRepository keeps image metadata rows.
type MemoryImageRepository struct {
	mu     sync.Mutex
	rows   map[string]*ImageRecord
	writes int
}

var _ ImageRepository = (*MemoryImageRepository)(nil)

func NewMemoryImageRepository() *MemoryImageRepository {
	return &MemoryImageRepository{rows: make(map[string]*ImageRecord)}
}

func (r *MemoryImageRepository) Insert(ctx context.Context, rec *ImageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryImageRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	r.writes++
	return nil
}

func (r *MemoryImageRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// MemoryProjectUpdateRepository keeps update posts.
type MemoryProjectUpdateRepository struct {
	mu     sync.Mutex
	rows   map[string]*ProjectUpdateRecord
	writes int
}

var _ ProjectUpdateRepository = (*MemoryProjectUpdateRepository)(nil)

func NewMemoryProjectUpdateRepository() *MemoryProjectUpdateRepository {
	return &MemoryProjectUpdateRepository{rows: make(map[string]*ProjectUpdateRecord)}
}

func (r *MemoryProjectUpdateRepository) Insert(ctx context.Context, rec *ProjectUpdateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *rec
	r.rows[rec.ID] = &c
	r.writes++
	return nil
}

func (r *MemoryProjectUpdateRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	r.writes++
	return nil
}

func (r *MemoryProjectUpdateRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// AuditEntry is one recorded privileged action.
type AuditEntry struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
}

// MemoryAuditLog records audit entries in order.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

var _ AuditLog = (*MemoryAuditLog)(nil)

func NewMemoryAuditLog() *MemoryAuditLog { return &MemoryAuditLog{} }

func (l *MemoryAuditLog) Log(ctx context.Context, actorID, action, resourceType, resourceID string, metadata map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, AuditEntry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	})
	return nil
}

// Entries returns a copy of the recorded audit trail.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}
