package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/store"
	"go.uber.org/zap"
)

// AttributionService resolves the vehicle and driver active when a scan happened.
// Resolution is best effort: lookup failures are logged and never returned.
type AttributionService struct {
	fleet    store.FleetStore
	lookback time.Duration
	logger   *zap.Logger
}

// NewAttributionService creates a new attribution service. A zero lookback is unbounded.
func NewAttributionService(fleet store.FleetStore, lookback time.Duration, logger *zap.Logger) *AttributionService {
	return &AttributionService{
		fleet:    fleet,
		lookback: lookback,
		logger:   logger,
	}
}

// Attribute resolves the attribution of a scan of tag at time at.
//
// A tag without a car yields an empty attribution. Otherwise the assignment
// bracketing at is used; when none does, the car's currently recorded driver
// is used instead, even if the scan fell into a handover gap.
func (s *AttributionService) Attribute(ctx context.Context, tag *model.QRTag, at time.Time) (attr model.Attribution) {
	attr = model.Attribution{Source: model.AttributionNone}
	if tag == nil || tag.CarID == nil || *tag.CarID == "" {
		return attr
	}

	carID := *tag.CarID
	attr = model.Attribution{VehicleID: &carID, Source: model.AttributionVehicleOnly}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Attribution lookup panicked",
				zap.String("tenant_id", tag.TenantID),
				zap.String("car_id", carID),
				zap.Any("panic", r))
			attr = model.Attribution{VehicleID: &carID, Source: model.AttributionVehicleOnly}
		}
	}()

	driverID, source, err := s.resolveDriver(ctx, tag.TenantID, carID, at)
	if err != nil {
		s.logger.Warn("Attribution lookup failed",
			zap.String("tenant_id", tag.TenantID),
			zap.String("car_id", carID),
			zap.Error(err))
		return attr
	}
	if driverID == "" {
		return attr
	}

	attr.DriverID = &driverID
	attr.Source = source
	return attr
}

func (s *AttributionService) resolveDriver(ctx context.Context, tenantID, carID string, at time.Time) (string, model.AttributionSource, error) {
	assignment, err := s.fleet.FindAssignment(ctx, tenantID, carID, at, s.lookback)
	switch {
	case err == nil:
		return assignment.DriverID, model.AttributionAssignment, nil
	case !errors.Is(err, store.ErrNotFound):
		return "", model.AttributionNone, fmt.Errorf("failed to find assignment: %w", err)
	}

	driverID, err := s.fleet.CurrentDriver(ctx, tenantID, carID)
	switch {
	case err == nil:
		s.logger.Debug("No assignment covers scan, using current driver",
			zap.String("tenant_id", tenantID),
			zap.String("car_id", carID),
			zap.Time("scanned_at", at))
		return driverID, model.AttributionCurrentDriver, nil
	case errors.Is(err, store.ErrNotFound):
		return "", model.AttributionNone, nil
	default:
		return "", model.AttributionNone, fmt.Errorf("failed to get current driver: %w", err)
	}
}
