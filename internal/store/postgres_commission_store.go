package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

const commissionsTable = "commissions"

var commissionColumns = []string{"id", "tenant_id", "prospect_id", "agent_id", "amount_cents", "status", "created_at"}

func scanCommission(row rowScanner) (*model.Commission, error) {
	var c model.Commission
	var status string
	if err := row.Scan(&c.ID, &c.TenantID, &c.ProspectID, &c.AgentID, &c.AmountCents, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = model.CommissionStatus(status)
	return &c, nil
}

func insertCommissionQuery(c *model.Commission) sq.InsertBuilder {
	return tenantInsert(c.TenantID, commissionsTable, map[string]any{
		"id":           c.ID,
		"prospect_id":  c.ProspectID,
		"agent_id":     c.AgentID,
		"amount_cents": c.AmountCents,
		"status":       string(c.Status),
		"created_at":   c.CreatedAt,
	})
}

func getCommissionQuery(tenantID, id string) sq.SelectBuilder {
	return tenantSelect(tenantID, commissionsTable, commissionColumns...).Where(sq.Eq{"id": id})
}

func listCommissionsQuery(tenantID string, page pagination.Page) sq.SelectBuilder {
	return applyPage(tenantSelect(tenantID, commissionsTable, commissionColumns...), page)
}

func commissionKey(field string) func(*model.Commission) pagination.Key {
	return func(c *model.Commission) pagination.Key {
		switch field {
		case "amount_cents":
			return pagination.Key{Value: c.AmountCents, ID: c.ID}
		case "status":
			return pagination.Key{Value: string(c.Status), ID: c.ID}
		default:
			return pagination.Key{Value: c.CreatedAt, ID: c.ID}
		}
	}
}

// CreateCommission inserts a new commission
func (p *Postgres) CreateCommission(ctx context.Context, c *model.Commission) error {
	return p.WithTenant(ctx, c.TenantID, func(s *Scope) error {
		if _, err := s.exec(ctx, insertCommissionQuery(c)); err != nil {
			return fmt.Errorf("failed to insert commission: %w", mapError(err))
		}
		return nil
	})
}

// GetCommission returns the commission, or ErrNotFound
func (p *Postgres) GetCommission(ctx context.Context, tenantID, id string) (*model.Commission, error) {
	var c *model.Commission
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, getCommissionQuery(tenantID, id))
		if err != nil {
			return err
		}
		c, err = scanCommission(row)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCommissions returns one page of the tenant's commissions
func (p *Postgres) ListCommissions(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Commission, string, error) {
	var commissions []*model.Commission
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		rows, err := s.query(ctx, listCommissionsQuery(tenantID, page))
		if err != nil {
			return fmt.Errorf("failed to list commissions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			c, err := scanCommission(rows)
			if err != nil {
				return fmt.Errorf("failed to scan commission: %w", err)
			}
			commissions = append(commissions, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	commissions, next := pagination.Trim(commissions, page, commissionKey(page.Field.Name))
	return commissions, next, nil
}
