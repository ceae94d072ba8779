package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestQueries_AlwaysCarryTenantPredicate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	status := model.QRTagInactive
	page := pagination.Page{Limit: 10, Field: pagination.Field{Name: "created_at"}, Dir: pagination.Desc}

	queries := map[string]sq.Sqlizer{
		"insert qr tag":      insertQRTagQuery(&model.QRTag{ID: "q1", TenantID: "t1", Code: "C", Status: model.QRTagActive}),
		"update qr tag":      updateQRTagQuery("t1", "q1", model.QRTagUpdate{Status: &status}, now),
		"get qr tag":         getQRTagQuery("t1", "q1"),
		"list qr tags":       listQRTagsQuery("t1", page),
		"insert scan":        insertScanQuery(&model.QRScan{ID: "s1", TenantID: "t1", QRTagID: "q1"}),
		"list scans":         listScansQuery("t1", "q1", page),
		"insert prospect":    insertProspectQuery(&model.Prospect{ID: "p1", TenantID: "t1"}),
		"get prospect":       getProspectQuery("t1", "p1"),
		"list prospects":     listProspectsQuery("t1", page),
		"insert commission":  insertCommissionQuery(&model.Commission{ID: "c1", TenantID: "t1"}),
		"get commission":     getCommissionQuery("t1", "c1"),
		"list commissions":   listCommissionsQuery("t1", page),
		"list agents":        listAgentsQuery("public", "t1", page),
		"find assignment":    findAssignmentQuery("public", "t1", "car-1", now, time.Hour),
		"current driver":     currentDriverQuery("public", "t1", "car-1"),
		"get idempotency":    getIdempotencyQuery("t1", "k", now),
		"insert idempotency": insertIdempotencyQuery(&model.IdempotencyRecord{ID: "i1", TenantID: "t1", Key: "k"}, now),
	}

	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			query, args, err := q.ToSql()
			require.NoError(t, err)
			assert.Contains(t, query, "tenant_id")
			assert.Contains(t, args, "t1")
			assert.NotContains(t, query, "?", "placeholders must be rewritten to $n")
		})
	}
}

func TestSelectQueries_FilterByTenantFirst(t *testing.T) {
	query, args, err := getQRTagQuery("tenant-a", "q1").ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "WHERE tenant_id = $1")
	assert.Equal(t, "tenant-a", args[0])
}

func TestApplyPage_KeysetPredicate(t *testing.T) {
	after := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		dir     pagination.Direction
		wantOp  string
		wantDir string
	}{
		{name: "descending", dir: pagination.Desc, wantOp: "<", wantDir: "DESC"},
		{name: "ascending", dir: pagination.Asc, wantOp: ">", wantDir: "ASC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := pagination.Page{
				Limit: 25,
				Field: pagination.Field{Name: "created_at", Type: pagination.TypeTime},
				Dir:   tt.dir,
				After: &pagination.Key{Value: after, ID: "q9"},
			}
			query, args, err := listQRTagsQuery("t1", page).ToSql()
			require.NoError(t, err)

			assert.Contains(t, query, fmt.Sprintf("created_at %s $2", tt.wantOp))
			assert.Contains(t, query, "created_at = $3")
			assert.Contains(t, query, fmt.Sprintf("id %s $4", tt.wantOp))
			assert.Contains(t, query, fmt.Sprintf("ORDER BY created_at %s, id %s", tt.wantDir, tt.wantDir))
			assert.True(t, strings.HasSuffix(query, "LIMIT 26"), query)
			assert.Equal(t, []any{"t1", after, after, "q9"}, args)
		})
	}
}

func TestApplyPage_FirstPageHasNoKeysetPredicate(t *testing.T) {
	page := pagination.Page{Limit: 50, Field: pagination.Field{Name: "code", Type: pagination.TypeString}, Dir: pagination.Asc}
	query, args, err := listQRTagsQuery("t1", page).ToSql()
	require.NoError(t, err)

	assert.NotContains(t, query, " OR ")
	assert.Contains(t, query, "ORDER BY code ASC, id ASC")
	assert.Equal(t, []any{"t1"}, args)
}

func TestUpdateQRTagQuery_OnlySetsProvidedFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	query, _, err := updateQRTagQuery("t1", "q1", model.QRTagUpdate{CarID: strPtr("car-7")}, now).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "car_id = ")
	assert.Contains(t, query, "updated_at = ")
	assert.NotContains(t, query, "status = ")
	assert.Contains(t, query, "RETURNING id, tenant_id")
}

func TestInsertIdempotencyQuery_ReplacesOnlyExpiredRecords(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	query, args, err := insertIdempotencyQuery(&model.IdempotencyRecord{ID: "i1", TenantID: "t1", Key: "k"}, since).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "ON CONFLICT (tenant_id, key) DO UPDATE")
	assert.Contains(t, query, "WHERE idempotency_records.created_at < $")
	assert.Equal(t, since, args[len(args)-1])
}

func TestFindAssignmentQuery_Lookback(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	query, args, err := findAssignmentQuery("legacy", "t1", "car-1", at, 24*time.Hour).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, `FROM "legacy"."car_driver_assignments"`)
	assert.Contains(t, query, "assigned_at <= $")
	assert.Contains(t, query, "ORDER BY assigned_at DESC LIMIT 1")
	assert.Contains(t, args, at.Add(-24*time.Hour))
	assert.NotContains(t, query, " assigned_at >=", "the start of a covering window is never bounded")
	assert.Equal(t, 2, strings.Count(query, "unassigned_at IS NULL"))

	query, _, err = findAssignmentQuery("legacy", "t1", "car-1", at, 0).ToSql()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(query, "unassigned_at IS NULL"))
	assert.NotContains(t, query, " assigned_at >=")
}

func TestListAgentsQuery_FiltersAgentRole(t *testing.T) {
	page := pagination.Page{Limit: 10, Field: pagination.Field{Name: "name", Type: pagination.TypeString}, Dir: pagination.Asc}
	query, args, err := listAgentsQuery("public", "t1", page).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, `FROM "public"."users"`)
	assert.Contains(t, query, "= ANY(roles)")
	assert.Contains(t, args, model.AgentRole)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505", ConstraintName: "qr_tags_tenant_code_key"}), ErrDuplicate)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
	assert.Equal(t, other, errors.Unwrap(fmt.Errorf("x: %w", mapError(other))))
}
