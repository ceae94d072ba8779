package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/devrev/qrcore/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when the request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")
	// ErrNoKeyID is returned for tokens without a kid header
	ErrNoKeyID = errors.New("no key ID in token header")
)

// SigningMethods are the accepted token algorithms
var SigningMethods = []string{"RS256", "RS384", "RS512", "ES256", "ES384"}

// KeyProvider resolves a verification key by key id
type KeyProvider interface {
	Key(ctx context.Context, kid string) (any, error)
}

// Verifier validates bearer tokens
type Verifier struct {
	keys   KeyProvider
	parser *jwt.Parser
}

// NewVerifier creates a verifier. Tokens must carry the configured issuer and
// audience; config validation refuses to start without them.
func NewVerifier(keys KeyProvider, cfg config.AuthConfig, clk clock.Clock) *Verifier {
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(SigningMethods),
			jwt.WithTimeFunc(clk.Now),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify checks the token signature and registered claims and returns its claims
func (v *Verifier) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrNoKeyID
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// BearerToken extracts the token from the Authorization header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// TenantFromClaims returns the first non-empty claim among names
func TenantFromClaims(claims jwt.MapClaims, names []string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
