package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/config"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres implements Store on a pgx connection pool. Every unit of work runs
// on one pooled connection pinned to the service schema.
type Postgres struct {
	pool         *pgxpool.Pool
	schema       string
	legacySchema string
	logger       *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates the pool, verifies connectivity and bootstraps the schema
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Postgres, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode, cfg.MaxConnections, cfg.MinConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{
		pool:         pool,
		schema:       cfg.Schema,
		legacySchema: cfg.LegacySchema,
		logger:       logger,
	}

	if err := p.Bootstrap(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return p, nil
}

// Scope is a tenant-bound handle on one pooled connection
type Scope struct {
	conn     *pgxpool.Conn
	tenantID string
	legacy   string
}

// TenantID returns the tenant the scope is bound to
func (s *Scope) TenantID() string {
	return s.tenantID
}

// WithTenant runs fn on a single pooled connection whose search_path is pinned
// to the service schema. The connection is released on every exit path.
func (p *Postgres) WithTenant(ctx context.Context, tenantID string, fn func(*Scope) error) error {
	if tenantID == "" {
		return ErrNoTenant
	}
	return p.withConn(ctx, func(conn *pgxpool.Conn) error {
		return fn(&Scope{conn: conn, tenantID: tenantID, legacy: p.legacySchema})
	})
}

func (p *Postgres) withConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT set_config('search_path', $1, false)", pgx.Identifier{p.schema}.Sanitize()); err != nil {
		return fmt.Errorf("failed to pin schema %q: %w", p.schema, err)
	}

	return fn(conn)
}

func (s *Scope) queryRow(ctx context.Context, b sq.Sqlizer) (pgx.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.conn.QueryRow(ctx, query, args...), nil
}

func (s *Scope) query(ctx context.Context, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	return s.conn.Query(ctx, query, args...)
}

func (s *Scope) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("failed to build query: %w", err)
	}
	return s.conn.Exec(ctx, query, args...)
}

func joinColumns(cols []string) string {
	return strings.Join(cols, ", ")
}

// legacyTable returns the qualified name of a table in the monolith's schema
func legacyTable(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// tenantSelect starts every read. The tenant predicate is always the first condition.
func tenantSelect(tenantID, table string, columns ...string) sq.SelectBuilder {
	return psql.Select(columns...).From(table).Where(sq.Eq{"tenant_id": tenantID})
}

// tenantUpdate starts every update.
func tenantUpdate(tenantID, table string) sq.UpdateBuilder {
	return psql.Update(table).Where(sq.Eq{"tenant_id": tenantID})
}

// tenantInsert starts every insert with the tenant column set.
func tenantInsert(tenantID, table string, values map[string]any) sq.InsertBuilder {
	row := make(map[string]any, len(values)+1)
	for k, v := range values {
		row[k] = v
	}
	row["tenant_id"] = tenantID
	return psql.Insert(table).SetMap(row)
}

// applyPage adds the keyset predicate, ordering and look-ahead limit.
// page.Field.Name comes from an allow-list and is safe to interpolate.
func applyPage(b sq.SelectBuilder, page pagination.Page) sq.SelectBuilder {
	col := page.Field.Name
	op := page.Dir.Op()
	if page.After != nil {
		b = b.Where(sq.Or{
			sq.Expr(col+" "+op+" ?", page.After.Value),
			sq.And{
				sq.Eq{col: page.After.Value},
				sq.Expr("id "+op+" ?", page.After.ID),
			},
		})
	}
	dir := "DESC"
	if page.Dir == pagination.Asc {
		dir = "ASC"
	}
	return b.OrderBy(col+" "+dir, "id "+dir).Limit(uint64(page.Limit + 1))
}

// mapError converts driver errors to store sentinels
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// Ping checks the database connection
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the connection pool
func (p *Postgres) Close() {
	p.pool.Close()
}
