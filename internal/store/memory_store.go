package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

// Memory implements Store in process memory. It backs tests and local runs
// with database.driver=memory.
type Memory struct {
	mu          sync.RWMutex
	tags        map[string]model.QRTag
	scans       map[string]model.QRScan
	prospects   map[string]model.Prospect
	commissions map[string]model.Commission
	agents      map[string]model.Agent
	assignments []model.DriverAssignment
	drivers     map[tenantScoped]string // car -> current driver
	idempotency map[tenantScoped]model.IdempotencyRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		tags:        make(map[string]model.QRTag),
		scans:       make(map[string]model.QRScan),
		prospects:   make(map[string]model.Prospect),
		commissions: make(map[string]model.Commission),
		agents:      make(map[string]model.Agent),
		drivers:     make(map[tenantScoped]string),
		idempotency: make(map[tenantScoped]model.IdempotencyRecord),
	}
}

// tenantScoped keys rows whose id is only unique within a tenant
type tenantScoped struct {
	tenantID string
	id       string
}

// page sorts the tenant's rows by the page ordering, keeps those after the
// cursor and trims to the limit
func page[T any](rows []*T, p pagination.Page, keyOf func(*T) pagination.Key) ([]*T, string) {
	kept := rows[:0]
	for _, r := range rows {
		if p.Includes(keyOf(r)) {
			kept = append(kept, r)
		}
	}
	slices.SortFunc(kept, func(a, b *T) int {
		c := pagination.Compare(keyOf(a), keyOf(b))
		if p.Dir == pagination.Desc {
			return -c
		}
		return c
	})
	if len(kept) > p.Limit+1 {
		kept = kept[:p.Limit+1]
	}
	return pagination.Trim(kept, p, keyOf)
}

// CreateQRTag inserts a new tag. A code already used by the tenant yields ErrDuplicate.
func (m *Memory) CreateQRTag(ctx context.Context, tag *model.QRTag) error {
	if tag.TenantID == "" {
		return ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tags {
		if t.TenantID == tag.TenantID && t.Code == tag.Code {
			return ErrDuplicate
		}
	}
	if _, ok := m.tags[tag.ID]; ok {
		return ErrDuplicate
	}
	m.tags[tag.ID] = *tag
	return nil
}

// UpdateQRTag applies upd to the tag and returns the updated row
func (m *Memory) UpdateQRTag(ctx context.Context, tenantID, id string, upd model.QRTagUpdate, now time.Time) (*model.QRTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tags[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.CampaignID != nil {
		t.CampaignID = upd.CampaignID
	}
	if upd.CarID != nil {
		t.CarID = upd.CarID
	}
	if upd.OwnerUserID != nil {
		t.OwnerUserID = upd.OwnerUserID
	}
	t.UpdatedAt = now
	m.tags[id] = t
	return &t, nil
}

// GetQRTag returns the tag, or ErrNotFound when absent or owned by another tenant
func (m *Memory) GetQRTag(ctx context.Context, tenantID, id string) (*model.QRTag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tags[id]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &t, nil
}

// ListQRTags returns one page of the tenant's tags
func (m *Memory) ListQRTags(ctx context.Context, tenantID string, p pagination.Page) ([]*model.QRTag, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.QRTag
	for _, t := range m.tags {
		if t.TenantID == tenantID {
			rows = append(rows, &t)
		}
	}
	tags, next := page(rows, p, qrTagKey(p.Field.Name))
	return tags, next, nil
}

// CreateScan records a scan event
func (m *Memory) CreateScan(ctx context.Context, scan *model.QRScan) error {
	if scan.TenantID == "" {
		return ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.scans[scan.ID] = *scan
	return nil
}

// ListScans returns one page of scans recorded for a tag
func (m *Memory) ListScans(ctx context.Context, tenantID, qrTagID string, p pagination.Page) ([]*model.QRScan, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.QRScan
	for _, s := range m.scans {
		if s.TenantID == tenantID && s.QRTagID == qrTagID {
			rows = append(rows, &s)
		}
	}
	scans, next := page(rows, p, scanKey(p.Field.Name))
	return scans, next, nil
}

// CreateProspect inserts a new prospect
func (m *Memory) CreateProspect(ctx context.Context, prospect *model.Prospect) error {
	if prospect.TenantID == "" {
		return ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prospects[prospect.ID] = *prospect
	return nil
}

// GetProspect returns the prospect, or ErrNotFound
func (m *Memory) GetProspect(ctx context.Context, tenantID, id string) (*model.Prospect, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prospects[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListProspects returns one page of the tenant's prospects
func (m *Memory) ListProspects(ctx context.Context, tenantID string, p pagination.Page) ([]*model.Prospect, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.Prospect
	for _, pr := range m.prospects {
		if pr.TenantID == tenantID {
			rows = append(rows, &pr)
		}
	}
	prospects, next := page(rows, p, prospectKey(p.Field.Name))
	return prospects, next, nil
}

// CreateCommission inserts a new commission
func (m *Memory) CreateCommission(ctx context.Context, c *model.Commission) error {
	if c.TenantID == "" {
		return ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commissions[c.ID] = *c
	return nil
}

// GetCommission returns the commission, or ErrNotFound
func (m *Memory) GetCommission(ctx context.Context, tenantID, id string) (*model.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.commissions[id]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListCommissions returns one page of the tenant's commissions
func (m *Memory) ListCommissions(ctx context.Context, tenantID string, p pagination.Page) ([]*model.Commission, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.Commission
	for _, c := range m.commissions {
		if c.TenantID == tenantID {
			rows = append(rows, &c)
		}
	}
	commissions, next := page(rows, p, commissionKey(p.Field.Name))
	return commissions, next, nil
}

// AddAgent seeds a legacy user
func (m *Memory) AddAgent(a model.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

// AddAssignment seeds a legacy car/driver assignment
func (m *Memory) AddAssignment(a model.DriverAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments = append(m.assignments, a)
}

// SetCurrentDriver seeds the driver currently recorded on a car
func (m *Memory) SetCurrentDriver(tenantID, carID, driverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[tenantScoped{tenantID, carID}] = driverID
}

// ListAgents returns one page of users holding the agent role
func (m *Memory) ListAgents(ctx context.Context, tenantID string, p pagination.Page) ([]*model.Agent, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.Agent
	for _, a := range m.agents {
		if a.TenantID == tenantID && slices.Contains(a.Roles, model.AgentRole) {
			rows = append(rows, &a)
		}
	}
	agents, next := page(rows, p, agentKey(p.Field.Name))
	return agents, next, nil
}

// FindAssignment returns the latest assignment of carID covering at, however
// long ago it started. A covering window always ends within the lookback.
func (m *Memory) FindAssignment(ctx context.Context, tenantID, carID string, at time.Time, lookback time.Duration) (*model.DriverAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *model.DriverAssignment
	for i := range m.assignments {
		a := m.assignments[i]
		if a.TenantID != tenantID || a.CarID != carID || !a.Covers(at) {
			continue
		}
		if found == nil || a.AssignedAt.After(found.AssignedAt) {
			found = &a
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// CurrentDriver returns the driver currently recorded on the car
func (m *Memory) CurrentDriver(ctx context.Context, tenantID, carID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drivers[tenantScoped{tenantID, carID}]
	if !ok || d == "" {
		return "", ErrNotFound
	}
	return d, nil
}

// GetIdempotencyRecord returns the live record for the key, or ErrNotFound
func (m *Memory) GetIdempotencyRecord(ctx context.Context, tenantID, key string, since time.Time) (*model.IdempotencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idempotency[tenantScoped{tenantID, key}]
	if !ok || rec.CreatedAt.Before(since) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// InsertIdempotencyRecord keeps a live record and replaces an expired one
func (m *Memory) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord, since time.Time) error {
	if rec.TenantID == "" {
		return ErrNoTenant
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tenantScoped{rec.TenantID, rec.Key}
	if existing, ok := m.idempotency[k]; ok && !existing.CreatedAt.Before(since) {
		return nil
	}
	m.idempotency[k] = *rec
	return nil
}

// PurgeIdempotencyRecords deletes records created before the cutoff
func (m *Memory) PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for k, rec := range m.idempotency {
		if rec.CreatedAt.Before(before) {
			delete(m.idempotency, k)
			deleted++
		}
	}
	return deleted, nil
}

// Ping always succeeds
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *Memory) Close() {}
