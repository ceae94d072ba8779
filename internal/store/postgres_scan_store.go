package store

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
)

const qrScansTable = "qr_scans"

var qrScanColumns = []string{"id", "tenant_id", "qr_tag_id", "scanned_at", "ip", "user_agent", "metadata"}

func scanQRScan(row rowScanner) (*model.QRScan, error) {
	var s model.QRScan
	var metadata []byte
	if err := row.Scan(&s.ID, &s.TenantID, &s.QRTagID, &s.ScannedAt, &s.IP, &s.UserAgent, &metadata); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		s.Metadata = json.RawMessage(metadata)
	}
	return &s, nil
}

// jsonArg passes a JSON document as text so the server casts it to jsonb; empty means NULL
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func insertScanQuery(scan *model.QRScan) sq.InsertBuilder {
	return tenantInsert(scan.TenantID, qrScansTable, map[string]any{
		"id":         scan.ID,
		"qr_tag_id":  scan.QRTagID,
		"scanned_at": scan.ScannedAt,
		"ip":         scan.IP,
		"user_agent": scan.UserAgent,
		"metadata":   jsonArg(scan.Metadata),
	})
}

func listScansQuery(tenantID, qrTagID string, page pagination.Page) sq.SelectBuilder {
	b := tenantSelect(tenantID, qrScansTable, qrScanColumns...).Where(sq.Eq{"qr_tag_id": qrTagID})
	return applyPage(b, page)
}

func scanKey(_ string) func(*model.QRScan) pagination.Key {
	return func(s *model.QRScan) pagination.Key {
		return pagination.Key{Value: s.ScannedAt, ID: s.ID}
	}
}

// CreateScan records a scan event
func (p *Postgres) CreateScan(ctx context.Context, scan *model.QRScan) error {
	return p.WithTenant(ctx, scan.TenantID, func(s *Scope) error {
		if _, err := s.exec(ctx, insertScanQuery(scan)); err != nil {
			return fmt.Errorf("failed to insert scan: %w", mapError(err))
		}
		return nil
	})
}

// ListScans returns one page of scans recorded for a tag
func (p *Postgres) ListScans(ctx context.Context, tenantID, qrTagID string, page pagination.Page) ([]*model.QRScan, string, error) {
	var scans []*model.QRScan
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		rows, err := s.query(ctx, listScansQuery(tenantID, qrTagID, page))
		if err != nil {
			return fmt.Errorf("failed to list scans: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			sc, err := scanQRScan(rows)
			if err != nil {
				return fmt.Errorf("failed to scan scan row: %w", err)
			}
			scans = append(scans, sc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, "", err
	}

	scans, next := pagination.Trim(scans, page, scanKey(page.Field.Name))
	return scans, next, nil
}
