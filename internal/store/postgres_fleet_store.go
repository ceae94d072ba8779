package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

// Legacy tables owned by the monolith. This service only reads them.
const (
	legacyUsersTable       = "users"
	legacyCarsTable        = "cars"
	legacyAssignmentsTable = "car_driver_assignments"
)

var agentColumns = []string{"id", "tenant_id", "name", "email", "roles"}

func listAgentsQuery(legacySchema, tenantID string, page pagination.Page) sq.SelectBuilder {
	b := tenantSelect(tenantID, legacyTable(legacySchema, legacyUsersTable), agentColumns...).
		Where(sq.Expr("? = ANY(roles)", model.AgentRole))
	return applyPage(b, page)
}

func findAssignmentQuery(legacySchema, tenantID, carID string, at time.Time, lookback time.Duration) sq.SelectBuilder {
	b := tenantSelect(tenantID, legacyTable(legacySchema, legacyAssignmentsTable),
		"tenant_id", "car_id", "driver_id", "assigned_at", "unassigned_at").
		Where(sq.Eq{"car_id": carID}).
		Where(sq.LtOrEq{"assigned_at": at}).
		Where(sq.Or{sq.Eq{"unassigned_at": nil}, sq.GtOrEq{"unassigned_at": at}})
	// A covering window always matches however long ago it started. The
	// lookback only bounds how far back closed history rows are read.
	if lookback > 0 {
		b = b.Where(sq.Or{sq.Eq{"unassigned_at": nil}, sq.GtOrEq{"unassigned_at": at.Add(-lookback)}})
	}
	return b.OrderBy("assigned_at DESC").Limit(1)
}

func currentDriverQuery(legacySchema, tenantID, carID string) sq.SelectBuilder {
	return tenantSelect(tenantID, legacyTable(legacySchema, legacyCarsTable), "current_driver_id").
		Where(sq.Eq{"id": carID})
}

func agentKey(field string) func(*model.Agent) pagination.Key {
	return func(a *model.Agent) pagination.Key {
		if field == "email" {
			return pagination.Key{Value: a.Email, ID: a.ID}
		}
		return pagination.Key{Value: a.Name, ID: a.ID}
	}
}

// ListAgents returns one page of legacy users holding the agent role
func (p *Postgres) ListAgents(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Agent, string, error) {
	var agents []*model.Agent
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		rows, err := s.query(ctx, listAgentsQuery(s.legacy, tenantID, page))
		if err != nil {
			return fmt.Errorf("failed to list agents: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var a model.Agent
			if err := rows.Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.Roles); err != nil {
				return fmt.Errorf("failed to scan agent: %w", err)
			}
			agents = append(agents, &a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	agents, next := pagination.Trim(agents, page, agentKey(page.Field.Name))
	return agents, next, nil
}

// FindAssignment returns the assignment of carID that covers at
func (p *Postgres) FindAssignment(ctx context.Context, tenantID, carID string, at time.Time, lookback time.Duration) (*model.DriverAssignment, error) {
	var a model.DriverAssignment
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, findAssignmentQuery(s.legacy, tenantID, carID, at, lookback))
		if err != nil {
			return err
		}
		return mapError(row.Scan(&a.TenantID, &a.CarID, &a.DriverID, &a.AssignedAt, &a.UnassignedAt))
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CurrentDriver returns the driver currently recorded on the car
func (p *Postgres) CurrentDriver(ctx context.Context, tenantID, carID string) (string, error) {
	var driverID *string
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, currentDriverQuery(s.legacy, tenantID, carID))
		if err != nil {
			return err
		}
		return mapError(row.Scan(&driverID))
	})
	if err != nil {
		return "", err
	}
	if driverID == nil || *driverID == "" {
		return "", ErrNotFound
	}
	return *driverID, nil
}
