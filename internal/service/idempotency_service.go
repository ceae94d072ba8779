package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/model"
	"github.com/devrev/qrcore/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxIdempotencyKeyLength bounds client supplied keys
const MaxIdempotencyKeyLength = 255

// DecisionKind is the outcome of an idempotency check
type DecisionKind int

const (
	// Proceed means the request must be executed
	Proceed DecisionKind = iota
	// Replay means the stored response must be returned verbatim
	Replay
	// Conflict means the key was used with a different payload
	Conflict
)

func (k DecisionKind) String() string {
	switch k {
	case Replay:
		return "replay"
	case Conflict:
		return "conflict"
	default:
		return "proceed"
	}
}

// Decision is returned by Check
type Decision struct {
	Kind   DecisionKind
	Hash   string
	Record *model.IdempotencyRecord
}

// IdempotencyService guards create operations against client retries
type IdempotencyService struct {
	store     store.IdempotencyStore
	cache     store.IdempotencyCache
	retention time.Duration
	clock     clock.Clock
	logger    *zap.Logger
}

// NewIdempotencyService creates a new idempotency service. cache may be nil.
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	cache store.IdempotencyCache,
	retention time.Duration,
	clk clock.Clock,
	logger *zap.Logger,
) *IdempotencyService {
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	return &IdempotencyService{
		store:     idempotencyStore,
		cache:     cache,
		retention: retention,
		clock:     clk,
		logger:    logger,
	}
}

// ValidateKey rejects keys that cannot be stored
func ValidateKey(key string) error {
	if len(key) > MaxIdempotencyKeyLength {
		return apierrors.Validation("idempotency key must be at most %d characters", MaxIdempotencyKeyLength)
	}
	return nil
}

// CanonicalHash returns the hex SHA-256 of the payload re-encoded with sorted
// object keys and numbers kept verbatim. Insignificant whitespace and key order
// do not change the hash.
func CanonicalHash(payload []byte) (string, error) {
	var canonical []byte
	if len(bytes.TrimSpace(payload)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()

		var v any
		if err := dec.Decode(&v); err != nil {
			return "", fmt.Errorf("failed to decode payload: %w", err)
		}

		var err error
		canonical, err = json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode payload: %w", err)
		}
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Check decides whether a request carrying key must run, be replayed or be rejected
func (s *IdempotencyService) Check(ctx context.Context, tenantID, key string, payload []byte) (Decision, error) {
	if key == "" {
		return Decision{Kind: Proceed}, nil
	}
	if err := ValidateKey(key); err != nil {
		return Decision{}, err
	}

	hash, err := CanonicalHash(payload)
	if err != nil {
		return Decision{}, apierrors.Validation("request body must be valid JSON")
	}

	rec, err := s.lookup(ctx, tenantID, key)
	if err != nil {
		return Decision{}, err
	}
	if rec == nil {
		return Decision{Kind: Proceed, Hash: hash}, nil
	}

	if rec.RequestHash != hash {
		s.logger.Info("Idempotency key reused with a different payload",
			zap.String("tenant_id", tenantID),
			zap.String("idempotency_key", key))
		return Decision{Kind: Conflict, Hash: hash, Record: rec}, nil
	}

	s.logger.Debug("Replaying stored response",
		zap.String("tenant_id", tenantID),
		zap.String("idempotency_key", key))

	return Decision{Kind: Replay, Hash: hash, Record: rec}, nil
}

// lookup consults the cache, then the store. A nil record means none is live.
func (s *IdempotencyService) lookup(ctx context.Context, tenantID, key string) (*model.IdempotencyRecord, error) {
	since := s.since()

	if s.cache != nil {
		rec, err := s.cache.Get(ctx, tenantID, key)
		switch {
		case err == nil && !rec.CreatedAt.Before(since):
			return rec, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			s.logger.Warn("Idempotency cache read failed",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}

	rec, err := s.store.GetIdempotencyRecord(ctx, tenantID, key, since)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	s.remember(ctx, rec)
	return rec, nil
}

// Persist stores the response produced for key. When a concurrent request
// stored a record first, that record is kept.
func (s *IdempotencyService) Persist(ctx context.Context, tenantID, key, hash string, statusCode int, response []byte) error {
	if key == "" {
		return nil
	}

	rec := &model.IdempotencyRecord{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Key:         key,
		RequestHash: hash,
		StatusCode:  statusCode,
		Response:    response,
		CreatedAt:   s.clock.Now().UTC().Truncate(time.Microsecond),
	}

	if err := s.store.InsertIdempotencyRecord(ctx, rec, s.since()); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}

	s.logger.Debug("Stored idempotency record",
		zap.String("tenant_id", tenantID),
		zap.String("idempotency_key", key),
		zap.Duration("retention", s.retention))

	if s.cache != nil {
		// Cache whichever record won the insert race
		winner, err := s.store.GetIdempotencyRecord(ctx, tenantID, key, s.since())
		if err != nil {
			s.logger.Warn("Failed to read back idempotency record", zap.Error(err))
			return nil
		}
		s.remember(ctx, winner)
	}

	return nil
}

func (s *IdempotencyService) remember(ctx context.Context, rec *model.IdempotencyRecord) {
	if s.cache == nil {
		return
	}
	ttl := rec.CreatedAt.Add(s.retention).Sub(s.clock.Now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, rec, ttl); err != nil {
		s.logger.Warn("Idempotency cache write failed",
			zap.String("tenant_id", rec.TenantID),
			zap.Error(err))
	}
}

func (s *IdempotencyService) since() time.Time {
	return s.clock.Now().Add(-s.retention)
}

// Retention returns the window during which records are honoured
func (s *IdempotencyService) Retention() time.Duration {
	return s.retention
}
