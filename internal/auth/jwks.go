// Package auth verifies bearer tokens against a remote JSON Web Key Set and
// resolves the calling tenant from verified claims.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/config"
	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKey is returned when no key in the set matches a token's kid
var ErrUnknownKey = errors.New("no public key found for key ID")

const (
	// maxJWKSBytes bounds the size of a key set document
	maxJWKSBytes = 1 << 20

	defaultFetchTimeout = 5 * time.Second
)

// KeySet caches the signing keys published at a JWKS endpoint.
//
// The whole set is refetched once it is older than the cache TTL. A lookup for
// an unknown kid refetches early, but never more often than the minimum
// refresh interval, so a flood of tokens with made-up kids cannot hammer the
// identity provider.
//
// Concurrent refreshes collapse into one request. The request runs on its own
// timeout, detached from the caller, so an abandoned caller never aborts it and
// lookups of cached keys never wait behind it.
type KeySet struct {
	url          string
	client       *http.Client
	ttl          time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	logger       *zap.Logger

	group singleflight.Group

	mu          sync.RWMutex
	keys        map[string]any
	fetchedAt   time.Time
	lastAttempt time.Time
}

// NewKeySet creates a key set for cfg.JWKSURL. Keys are fetched lazily.
func NewKeySet(cfg config.AuthConfig, client *http.Client, clk clock.Clock, logger *zap.Logger) *KeySet {
	fetchTimeout := cfg.JWKSFetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &KeySet{
		url:          cfg.JWKSURL,
		client:       client,
		ttl:          ttl,
		minRefresh:   cfg.JWKSMinRefresh,
		fetchTimeout: fetchTimeout,
		clock:        clk,
		logger:       logger,
	}
}

// Key returns the public key registered under kid
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	now := k.clock.Now()
	keys, fetchedAt, lastAttempt := k.snapshot()

	switch {
	case keys == nil:
		fresh, err := k.refresh(ctx)
		if err != nil {
			return nil, err
		}
		keys = fresh
	case now.Sub(fetchedAt) >= k.ttl && now.Sub(lastAttempt) >= k.minRefresh:
		// Stale keys keep serving while the provider is unreachable
		if fresh, err := k.refresh(ctx); err == nil {
			keys = fresh
		}
	}

	if key, ok := keys[kid]; ok {
		return key, nil
	}

	if _, _, lastAttempt = k.snapshot(); now.Sub(lastAttempt) < k.minRefresh {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
	}
	keys, err := k.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key, ok := keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

func (k *KeySet) snapshot() (map[string]any, time.Time, time.Time) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys, k.fetchedAt, k.lastAttempt
}

// refresh fetches the set once for all concurrent callers. The caller may give
// up waiting through ctx; the fetch itself carries on.
func (k *KeySet) refresh(ctx context.Context) (map[string]any, error) {
	ch := k.group.DoChan("jwks", func() (any, error) {
		k.mu.Lock()
		k.lastAttempt = k.clock.Now()
		k.mu.Unlock()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.fetchTimeout)
		defer cancel()

		keys, err := k.fetch(fetchCtx)
		if err != nil {
			k.logger.Warn("JWKS refresh failed", zap.String("url", k.url), zap.Error(err))
			return nil, err
		}

		k.mu.Lock()
		k.keys = keys
		k.fetchedAt = k.clock.Now()
		k.mu.Unlock()

		k.logger.Debug("JWKS refreshed", zap.String("url", k.url), zap.Int("keys", len(keys)))
		return keys, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string]any), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (k *KeySet) fetch(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch JWKS: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}
	return k.parse(body)
}

// parse decodes a key set document. Keys are decoded one by one so that a
// single unusable entry does not discard the rest of the set.
func (k *KeySet) parse(body []byte) (map[string]any, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}

	keys := make(map[string]any, len(doc.Keys))
	for _, raw := range doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			k.logger.Warn("Skipping unusable JWK", zap.Error(err))
			continue
		}
		if jwk.KeyID == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		if !jwk.Valid() || !jwk.IsPublic() {
			k.logger.Warn("Skipping non-public JWK", zap.String("kid", jwk.KeyID))
			continue
		}
		keys[jwk.KeyID] = jwk.Key
	}
	return keys, nil
}
