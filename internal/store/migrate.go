package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// bootstrapStatements create the service-owned tables. They are idempotent.
// Legacy tables (users, cars, car_driver_assignments) are owned by the monolith.
var bootstrapStatements = []string{
	`CREATE TABLE IF NOT EXISTS qr_tags (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		campaign_id   TEXT,
		car_id        TEXT,
		owner_user_id TEXT,
		code          TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL,
		CONSTRAINT qr_tags_tenant_code_key UNIQUE (tenant_id, code)
	)`,
	`CREATE INDEX IF NOT EXISTS qr_tags_tenant_created_idx ON qr_tags (tenant_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS qr_scans (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		qr_tag_id   TEXT NOT NULL REFERENCES qr_tags (id),
		scanned_at  TIMESTAMPTZ NOT NULL,
		ip          TEXT,
		user_agent  TEXT,
		metadata    JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS qr_scans_tenant_tag_idx ON qr_scans (tenant_id, qr_tag_id, scanned_at, id)`,
	`CREATE TABLE IF NOT EXISTS prospects (
		id                TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		qr_tag_id         TEXT,
		campaign_id       TEXT,
		assigned_agent_id TEXT,
		status            TEXT NOT NULL,
		payload           JSONB NOT NULL DEFAULT '{}'::jsonb,
		verified_at       TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS prospects_tenant_created_idx ON prospects (tenant_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS commissions (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		prospect_id  TEXT NOT NULL REFERENCES prospects (id),
		agent_id     TEXT NOT NULL,
		amount_cents BIGINT NOT NULL CHECK (amount_cents >= 0),
		status       TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS commissions_tenant_created_idx ON commissions (tenant_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		key          TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		status_code  INTEGER NOT NULL,
		response     BYTEA NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL,
		CONSTRAINT idempotency_records_tenant_key UNIQUE (tenant_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idempotency_records_created_idx ON idempotency_records (created_at)`,
}

// Bootstrap creates the service schema and tables when they are missing.
// It never alters existing tables.
func (p *Postgres) Bootstrap(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	schema := pgx.Identifier{p.schema}.Sanitize()
	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}
	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", schema); err != nil {
		return fmt.Errorf("failed to pin schema %s: %w", schema, err)
	}

	for _, stmt := range bootstrapStatements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}

	p.logger.Info("Schema bootstrapped", zap.String("schema", p.schema))
	return nil
}
