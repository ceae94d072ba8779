// Package handler provides HTTP request handlers for the qrcore API.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/pagination"
	"github.com/devrev/qrcore/internal/service"
	"github.com/devrev/qrcore/internal/store"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	// IdempotencyKeyHeader is the preferred idempotency header
	IdempotencyKeyHeader = "Idempotency-Key"
	// AltIdempotencyKeyHeader is accepted for older clients
	AltIdempotencyKeyHeader = "X-Idempotency-Key"
	// ReplayedHeader marks a response served from an idempotency record
	ReplayedHeader = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

// Sort allow-lists. The first field is the default.
var (
	qrTagSort = pagination.NewAllowList(
		pagination.Field{Name: "created_at", Type: pagination.TypeTime},
		pagination.Field{Name: "updated_at", Type: pagination.TypeTime},
		pagination.Field{Name: "code", Type: pagination.TypeString},
		pagination.Field{Name: "status", Type: pagination.TypeString},
	)
	scanSort = pagination.NewAllowList(
		pagination.Field{Name: "scanned_at", Type: pagination.TypeTime},
	)
	prospectSort = pagination.NewAllowList(
		pagination.Field{Name: "created_at", Type: pagination.TypeTime},
		pagination.Field{Name: "status", Type: pagination.TypeString},
	)
	commissionSort = pagination.NewAllowList(
		pagination.Field{Name: "created_at", Type: pagination.TypeTime},
		pagination.Field{Name: "amount_cents", Type: pagination.TypeInt},
		pagination.Field{Name: "status", Type: pagination.TypeString},
	)
	agentSort = pagination.NewAllowList(
		pagination.Field{Name: "name", Type: pagination.TypeString},
		pagination.Field{Name: "email", Type: pagination.TypeString},
	)
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store       store.Store
	idempotency *service.IdempotencyService
	scans       *service.ScanService
	writer      *envelope.Writer
	collector   *metrics.Collector
	clock       clock.Clock
	logger      *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	st store.Store,
	idempotency *service.IdempotencyService,
	scans *service.ScanService,
	writer *envelope.Writer,
	collector *metrics.Collector,
	clk clock.Clock,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		store:       st,
		idempotency: idempotency,
		scans:       scans,
		writer:      writer,
		collector:   collector,
		clock:       clk,
		logger:      logger,
	}
}

func (h *Handlers) now() time.Time {
	return h.clock.Now().UTC().Truncate(time.Microsecond)
}

// readBody returns the raw request body, bounded to maxBodyBytes
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apierrors.Validation("request body must be at most %d bytes", maxBodyBytes)
		}
		return nil, apierrors.Validation("failed to read request body")
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apierrors.Validation("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return apierrors.Validation("request body must be valid JSON: %v", err)
	}
	return nil
}

// isObject reports whether raw is absent or a JSON object
func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || trimmed[0] == '{'
}

// isNull reports whether raw is absent or the JSON null literal
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

func idempotencyKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(r.Header.Get(AltIdempotencyKeyHeader))
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// nonEmpty trims s and returns nil when nothing is left
func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// idempotent runs create at most once per (tenant, idempotency key). A stored
// response for the same payload is replayed verbatim; a different payload
// under the same key is rejected. Failures are never stored.
func (h *Handlers) idempotent(w http.ResponseWriter, r *http.Request, tenantID string, body []byte, create func(ctx context.Context) envelope.Result) {
	ctx := r.Context()
	key := idempotencyKey(r)

	decision, err := h.idempotency.Check(ctx, tenantID, key, body)
	if err != nil {
		h.writer.Error(w, r, err)
		return
	}
	if key != "" {
		h.collector.Idempotency(decision.Kind.String())
	}

	switch decision.Kind {
	case service.Replay:
		h.logger.Debug("Replaying idempotent response",
			zap.String("tenant_id", tenantID),
			zap.String("idempotency_key", key))
		w.Header().Set(ReplayedHeader, "true")
		envelope.WriteRaw(w, http.StatusOK, decision.Record.Response)
		return
	case service.Conflict:
		h.writer.Error(w, r, apierrors.IdempotencyConflict())
		return
	}

	// The side effect must complete once started, even if the client leaves
	ctx = context.WithoutCancel(ctx)

	res := create(ctx)
	if res.Err() != nil || key == "" {
		h.writer.Write(w, r, res)
		return
	}

	resp, err := h.writer.Encode(r, res)
	if err != nil {
		h.writer.Error(w, r, apierrors.Internal(err))
		return
	}
	if err := h.idempotency.Persist(ctx, tenantID, key, decision.Hash, res.Code(), resp); err != nil {
		h.logger.Error("Failed to persist idempotency record",
			zap.String("tenant_id", tenantID),
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
	envelope.WriteRaw(w, res.Code(), resp)
}

// storeError maps store sentinels to API errors for entity
func storeError(err error, entity string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierrors.NotFound(entity)
	case errors.Is(err, store.ErrDuplicate):
		return apierrors.Duplicate(entity+" already exists", err)
	case errors.Is(err, store.ErrNoTenant):
		return apierrors.Forbidden("tenant could not be resolved")
	default:
		return apierrors.Internal(err)
	}
}

func listResult[T any](rows []T, next string) envelope.Result {
	if rows == nil {
		rows = []T{}
	}
	return envelope.OK(http.StatusOK, rows).WithCursor(next)
}
