package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

var (
	// ErrNotFound is returned when a row is absent or belongs to another tenant
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write
	ErrDuplicate = errors.New("duplicate")
	// ErrNoTenant is returned when a unit of work is attempted without a tenant
	ErrNoTenant = errors.New("tenant id is required")
)

// QRTagStore persists QR tags
type QRTagStore interface {
	CreateQRTag(ctx context.Context, tag *model.QRTag) error
	UpdateQRTag(ctx context.Context, tenantID, id string, upd model.QRTagUpdate, now time.Time) (*model.QRTag, error)
	GetQRTag(ctx context.Context, tenantID, id string) (*model.QRTag, error)
	ListQRTags(ctx context.Context, tenantID string, page pagination.Page) ([]*model.QRTag, string, error)
}

// ScanStore persists scan events
type ScanStore interface {
	CreateScan(ctx context.Context, scan *model.QRScan) error
	ListScans(ctx context.Context, tenantID, qrTagID string, page pagination.Page) ([]*model.QRScan, string, error)
}

// ProspectStore persists prospects
type ProspectStore interface {
	CreateProspect(ctx context.Context, p *model.Prospect) error
	GetProspect(ctx context.Context, tenantID, id string) (*model.Prospect, error)
	ListProspects(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Prospect, string, error)
}

// CommissionStore persists commissions
type CommissionStore interface {
	CreateCommission(ctx context.Context, c *model.Commission) error
	GetCommission(ctx context.Context, tenantID, id string) (*model.Commission, error)
	ListCommissions(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Commission, string, error)
}

// AgentStore reads agents from the legacy users view
type AgentStore interface {
	ListAgents(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Agent, string, error)
}

// FleetStore reads the legacy vehicle/driver assignment view. It is read-only.
type FleetStore interface {
	// FindAssignment returns the assignment of carID covering at. A covering window
	// matches however long ago it started; lookback only bounds how long ago a
	// closed window may have ended (0 means unbounded). ErrNotFound when none covers at.
	FindAssignment(ctx context.Context, tenantID, carID string, at time.Time, lookback time.Duration) (*model.DriverAssignment, error)
	// CurrentDriver returns the driver currently recorded on the car. ErrNotFound when unset.
	CurrentDriver(ctx context.Context, tenantID, carID string) (string, error)
}

// IdempotencyStore persists idempotency records
type IdempotencyStore interface {
	// GetIdempotencyRecord returns the record for (tenantID, key) created at or after since
	GetIdempotencyRecord(ctx context.Context, tenantID, key string, since time.Time) (*model.IdempotencyRecord, error)
	// InsertIdempotencyRecord stores rec. A live record for the same (tenant, key) wins
	// silently; a record older than since is replaced.
	InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord, since time.Time) error
	PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error)
}

// IdempotencyCache is a read-through cache in front of IdempotencyStore
type IdempotencyCache interface {
	Get(ctx context.Context, tenantID, key string) (*model.IdempotencyRecord, error)
	Set(ctx context.Context, rec *model.IdempotencyRecord, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

// Store is the full data access surface used by handlers
type Store interface {
	QRTagStore
	ScanStore
	ProspectStore
	CommissionStore
	AgentStore
	FleetStore
	IdempotencyStore

	Ping(ctx context.Context) error
	Close()
}
