package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

const prospectsTable = "prospects"

var prospectColumns = []string{
	"id", "tenant_id", "qr_tag_id", "campaign_id", "assigned_agent_id", "status", "payload", "verified_at", "created_at",
}

func scanProspect(row rowScanner) (*model.Prospect, error) {
	var p model.Prospect
	var payload []byte
	if err := row.Scan(
		&p.ID, &p.TenantID, &p.QRTagID, &p.CampaignID, &p.AssignedAgentID,
		&p.Status, &payload, &p.VerifiedAt, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.Payload = json.RawMessage(payload)
	return &p, nil
}

func insertProspectQuery(p *model.Prospect) sq.InsertBuilder {
	payload := p.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return tenantInsert(p.TenantID, prospectsTable, map[string]any{
		"id":                p.ID,
		"qr_tag_id":         p.QRTagID,
		"campaign_id":       p.CampaignID,
		"assigned_agent_id": p.AssignedAgentID,
		"status":            p.Status,
		"payload":           jsonArg(payload),
		"verified_at":       p.VerifiedAt,
		"created_at":        p.CreatedAt,
	})
}

func getProspectQuery(tenantID, id string) sq.SelectBuilder {
	return tenantSelect(tenantID, prospectsTable, prospectColumns...).Where(sq.Eq{"id": id})
}

func listProspectsQuery(tenantID string, page pagination.Page) sq.SelectBuilder {
	return applyPage(tenantSelect(tenantID, prospectsTable, prospectColumns...), page)
}

func prospectKey(field string) func(*model.Prospect) pagination.Key {
	return func(p *model.Prospect) pagination.Key {
		if field == "status" {
			return pagination.Key{Value: p.Status, ID: p.ID}
		}
		return pagination.Key{Value: p.CreatedAt, ID: p.ID}
	}
}

// CreateProspect inserts a new prospect
func (p *Postgres) CreateProspect(ctx context.Context, prospect *model.Prospect) error {
	return p.WithTenant(ctx, prospect.TenantID, func(s *Scope) error {
		if _, err := s.exec(ctx, insertProspectQuery(prospect)); err != nil {
			return fmt.Errorf("failed to insert prospect: %w", mapError(err))
		}
		return nil
	})
}

// GetProspect returns the prospect, or ErrNotFound
func (p *Postgres) GetProspect(ctx context.Context, tenantID, id string) (*model.Prospect, error) {
	var prospect *model.Prospect
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, getProspectQuery(tenantID, id))
		if err != nil {
			return err
		}
		prospect, err = scanProspect(row)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return prospect, nil
}

// ListProspects returns one page of the tenant's prospects
func (p *Postgres) ListProspects(ctx context.Context, tenantID string, page pagination.Page) ([]*model.Prospect, string, error) {
	var prospects []*model.Prospect
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		rows, err := s.query(ctx, listProspectsQuery(tenantID, page))
		if err != nil {
			return fmt.Errorf("failed to list prospects: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			pr, err := scanProspect(rows)
			if err != nil {
				return fmt.Errorf("failed to scan prospect: %w", err)
			}
			prospects = append(prospects, pr)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	prospects, next := pagination.Trim(prospects, page, prospectKey(page.Field.Name))
	return prospects, next, nil
}
