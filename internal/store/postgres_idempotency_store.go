package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const idempotencyTable = "idempotency_records"

var idempotencyColumns = []string{"id", "tenant_id", "key", "request_hash", "status_code", "response", "created_at"}

func getIdempotencyQuery(tenantID, key string, since time.Time) sq.SelectBuilder {
	return tenantSelect(tenantID, idempotencyTable, idempotencyColumns...).
		Where(sq.Eq{"key": key}).
		Where(sq.GtOrEq{"created_at": since})
}

// insertIdempotencyQuery keeps a live record and replaces one that expired before since
func insertIdempotencyQuery(rec *model.IdempotencyRecord, since time.Time) sq.InsertBuilder {
	return tenantInsert(rec.TenantID, idempotencyTable, map[string]any{
		"id":           rec.ID,
		"key":          rec.Key,
		"request_hash": rec.RequestHash,
		"status_code":  rec.StatusCode,
		"response":     rec.Response,
		"created_at":   rec.CreatedAt,
	}).Suffix(
		"ON CONFLICT (tenant_id, key) DO UPDATE SET "+
			"id = EXCLUDED.id, request_hash = EXCLUDED.request_hash, status_code = EXCLUDED.status_code, "+
			"response = EXCLUDED.response, created_at = EXCLUDED.created_at "+
			"WHERE idempotency_records.created_at < ?",
		since,
	)
}

// purgeIdempotencyQuery spans all tenants. It is the only statement without a tenant predicate.
func purgeIdempotencyQuery(before time.Time) sq.DeleteBuilder {
	return psql.Delete(idempotencyTable).Where(sq.Lt{"created_at": before})
}

// GetIdempotencyRecord returns the live record for the key, or ErrNotFound
func (p *Postgres) GetIdempotencyRecord(ctx context.Context, tenantID, key string, since time.Time) (*model.IdempotencyRecord, error) {
	var rec model.IdempotencyRecord
	err := p.WithTenant(ctx, tenantID, func(s *Scope) error {
		row, err := s.queryRow(ctx, getIdempotencyQuery(tenantID, key, since))
		if err != nil {
			return err
		}
		return mapError(row.Scan(
			&rec.ID, &rec.TenantID, &rec.Key, &rec.RequestHash, &rec.StatusCode, &rec.Response, &rec.CreatedAt,
		))
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertIdempotencyRecord stores the record. Concurrent first writers race on the
// (tenant_id, key) constraint and the loser's insert is a no-op.
func (p *Postgres) InsertIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord, since time.Time) error {
	return p.WithTenant(ctx, rec.TenantID, func(s *Scope) error {
		if _, err := s.exec(ctx, insertIdempotencyQuery(rec, since)); err != nil {
			return fmt.Errorf("failed to insert idempotency record: %w", mapError(err))
		}
		return nil
	})
}

// PurgeIdempotencyRecords deletes records of every tenant created before the cutoff
func (p *Postgres) PurgeIdempotencyRecords(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := p.withConn(ctx, func(conn *pgxpool.Conn) error {
		query, args, err := purgeIdempotencyQuery(before).ToSql()
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}
		tag, err := conn.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to purge idempotency records: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}

	p.logger.Debug("Purged idempotency records", zap.Int64("deleted", deleted), zap.Time("before", before))
	return deleted, nil
}
