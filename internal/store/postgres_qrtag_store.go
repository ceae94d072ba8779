package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

const qrTagsTable = "qr_tags"

var qrTagColumns = []string{
	"id", "tenant_id", "campaign_id", "car_id", "owner_user_id", "code", "status", "created_at", "updated_at",
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanQRTag(row rowScanner) (*model.QRTag, error) {
	var t model.QRTag
	var status string
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.CampaignID, &t.CarID, &t.OwnerUserID,
		&t.Code, &status, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = model.QRTagStatus(status)
	return &t, nil
}

func insertQRTagQuery(tag *model.QRTag) sq.InsertBuilder {
	return tenantInsert(tag.TenantID, qrTagsTable, map[string]any{
		"id":            tag.ID,
		"campaign_id":   tag.CampaignID,
		"car_id":        tag.CarID,
		"owner_user_id": tag.OwnerUserID,
		"code":          tag.Code,
		"status":        string(tag.Status),
		"created_at":    tag.CreatedAt,
		"updated_at":    tag.UpdatedAt,
	})
}

func updateQRTagQuery(tenantID, id string, upd model.QRTagUpdate, now time.Time) sq.UpdateBuilder {
	b := tenantUpdate(tenantID, qrTagsTable).Where(sq.Eq{"id": id}).Set("updated_at", now)
	if upd.Status != nil {
		b = b.Set("status", string(*upd.Status))
	}
	if upd.CampaignID != nil {
		b = b.Set("campaign_id", *upd.CampaignID)
	}
	if upd.CarID != nil {
		b = b.Set("car_id", *upd.CarID)
	}
	if upd.OwnerUserID != nil {
		b = b.Set("owner_user_id", *upd.OwnerUserID)
	}
	return b.Suffix("RETURNING " + joinColumns(qrTagColumns))
}

func getQRTagQuery(tenantID, id string) sq.SelectBuilder {
	return tenantSelect(tenantID, qrTagsTable, qrTagColumns...).Where(sq.Eq{"id": id})
}

func listQRTagsQuery(tenantID string, page pagination.Page) sq.SelectBuilder {
	return applyPage(tenantSelect(tenantID, qrTagsTable, qrTagColumns...), page)
}

// qrTagKey returns the pagination key of a tag for the sort field.
func qrTagKey(field string) func(*model.QRTag) pagination.Key {
	return func(t *model.QRTag) pagination.Key {
		switch field {
		case "updated_at":
			return pagination.Key{Value: t.UpdatedAt, ID: t.ID}
		case "code":
			return pagination.Key{Value: t.Code, ID: t.ID}
		case "status":
			return pagination.Key{Value: string(t.Status), ID: t.ID}
		default:
			return pagination.Key{Value: t.CreatedAt, ID: t.ID}
		}
	}
}

// CreateQRTag inserts a new tag. A code already used by the tenant yields ErrDuplicate.
func (p *Postgres) CreateQRTag(ctx context.Context, tag *model.QRTag) error {
	return p.WithTenant(ctx, tag.TenantID, func(s *Scope) error {
		if _, err := s.exec(ctx, insertQRTagQuery(tag)); err != nil {
			return fmt.Errorf("failed to insert qr tag: %w", mapError(err))
		}
		return nil
	})
}

// UpdateQRTag applies upd to the tag and returns the updated row
func (p *Postgres) UpdateQRTag(ctx context.Context, tenantID, id string, upd model.QRTagUpdate, now time.Time) (*model.QRTag, error) {
	var tag *model.QRTag
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, updateQRTagQuery(tenantID, id, upd, now))
		if err != nil {
			return err
		}
		tag, err = scanQRTag(row)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// GetQRTag returns the tag, or ErrNotFound when absent or owned by another tenant
func (p *Postgres) GetQRTag(ctx context.Context, tenantID, id string) (*model.QRTag, error) {
	var tag *model.QRTag
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, getQRTagQuery(tenantID, id))
		if err != nil {
			return err
		}
		tag, err = scanQRTag(row)
		return mapError(err)
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// ListQRTags returns one page of the tenant's tags and the next cursor
func (p *Postgres) ListQRTags(ctx context.Context, tenantID string, page pagination.Page) ([]*model.QRTag, string, error) {
	var tags []*model.QRTag
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		rows, err := s.query(ctx, listQRTagsQuery(tenantID, page))
		if err != nil {
			return fmt.Errorf("failed to list qr tags: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanQRTag(rows)
			if err != nil {
				return fmt.Errorf("failed to scan qr tag: %w", err)
			}
			tags = append(tags, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	tags, next := pagination.Trim(tags, page, qrTagKey(page.Field.Name))
	return tags, next, nil
}
