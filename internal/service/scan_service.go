package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScanAllower admits or rejects a scan from a caller
type ScanAllower interface {
	Allow(tenantID, ip string) bool
}

// ScanInput is a validated scan request. IP is the stored address;
// CallerAddr is the transport-level caller the limiter is keyed on.
type ScanInput struct {
	TenantID   string
	QRTagID    string
	IP         string
	CallerAddr string
	UserAgent  string
	Metadata   json.RawMessage
}

// ScanResult is the recorded scan with its derived attribution
type ScanResult struct {
	Scan        *model.QRScan
	Attribution model.Attribution
}

// ScanService records scans and attributes them
type ScanService struct {
	tags        store.QRTagStore
	scans       store.ScanStore
	limiter     ScanAllower
	attribution *AttributionService
	clock       clock.Clock
	logger      *zap.Logger
}

// NewScanService creates a new scan service
func NewScanService(
	tags store.QRTagStore,
	scans store.ScanStore,
	limiter ScanAllower,
	attribution *AttributionService,
	clk clock.Clock,
	logger *zap.Logger,
) *ScanService {
	return &ScanService{
		tags:        tags,
		scans:       scans,
		limiter:     limiter,
		attribution: attribution,
		clock:       clk,
		logger:      logger,
	}
}

// Record validates, throttles, persists and attributes a scan
func (s *ScanService) Record(ctx context.Context, in ScanInput) (*ScanResult, error) {
	if in.QRTagID == "" {
		return nil, apierrors.Validation("qr_tag_id is required")
	}

	caller := in.CallerAddr
	if caller == "" {
		caller = in.IP
	}
	if s.limiter != nil && !s.limiter.Allow(in.TenantID, caller) {
		return nil, apierrors.RateLimited("too many scans from this address")
	}

	tag, err := s.tags.GetQRTag(ctx, in.TenantID, in.QRTagID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.NotFound("qr tag")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load qr tag: %w", err)
	}

	scan := &model.QRScan{
		ID:        uuid.NewString(),
		TenantID:  in.TenantID,
		QRTagID:   tag.ID,
		ScannedAt: s.clock.Now().UTC().Truncate(time.Microsecond),
		IP:        optional(in.IP),
		UserAgent: optional(in.UserAgent),
		Metadata:  in.Metadata,
	}

	// The scan is the durable side effect; a client disconnect must not abort it
	if err := s.scans.CreateScan(context.WithoutCancel(ctx), scan); err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	attr := model.Attribution{Source: model.AttributionNone}
	if s.attribution != nil {
		attr = s.attribution.Attribute(ctx, tag, scan.ScannedAt)
	}

	s.logger.Debug("Scan recorded",
		zap.String("tenant_id", scan.TenantID),
		zap.String("qr_tag_id", scan.QRTagID),
		zap.String("scan_id", scan.ID),
		zap.String("attribution_source", string(attr.Source)))

	return &ScanResult{Scan: scan, Attribution: attr}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
