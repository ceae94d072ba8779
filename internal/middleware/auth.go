package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/devrev/qrcore/internal/auth"
	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/reqctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// TenantHeader names the tenant when the token carries no tenant claim
const TenantHeader = "X-Tenant-ID"

// TokenVerifier validates a raw bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// Authenticator gates routes on a verified token and a resolved tenant
type Authenticator struct {
	verifier     TokenVerifier
	tenantClaims []string
	writer       *envelope.Writer
	logger       *zap.Logger
}

// NewAuthenticator creates the token and tenant middleware
func NewAuthenticator(verifier TokenVerifier, tenantClaims []string, writer *envelope.Writer, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		verifier:     verifier,
		tenantClaims: tenantClaims,
		writer:       writer,
		logger:       logger,
	}
}

// Authenticate rejects requests without a valid bearer token
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := auth.BearerToken(r)
		if err != nil {
			a.writer.Error(w, r, apierrors.Unauthenticated("missing bearer token", err))
			return
		}

		claims, err := a.verifier.Verify(r.Context(), raw)
		if err != nil {
			a.writer.Error(w, r, apierrors.Unauthenticated("invalid token", err))
			return
		}

		next.ServeHTTP(w, r.WithContext(reqctx.WithClaims(r.Context(), claims)))
	})
}

// ResolveTenant requires a tenant from the token claims or the tenant header
func (a *Authenticator) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := a.tenantOf(r)
		if tenantID == "" {
			a.writer.Error(w, r, apierrors.Forbidden("tenant could not be resolved"))
			return
		}

		next.ServeHTTP(w, r.WithContext(reqctx.WithTenant(r.Context(), tenantID)))
	})
}

// OptionalTenant resolves the tenant when possible and lets the handler decide
func (a *Authenticator) OptionalTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID := a.tenantOf(r); tenantID != "" {
			r = r.WithContext(reqctx.WithTenant(r.Context(), tenantID))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) tenantOf(r *http.Request) string {
	if tenantID := auth.TenantFromClaims(reqctx.Claims(r.Context()), a.tenantClaims); tenantID != "" {
		return tenantID
	}
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}
