package middleware

import (
	"net/http"

	"github.com/devrev/qrcore/internal/envelope"
	apierrors "github.com/devrev/qrcore/internal/errors"
	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/ratelimit"
	"github.com/devrev/qrcore/internal/reqctx"
)

// ClassLimit throttles a route class per tenant. It must run after ResolveTenant.
func ClassLimit(limiter *ratelimit.FixedWindow, class ratelimit.Class, writer *envelope.Writer, collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(reqctx.TenantID(r.Context()), class) {
				collector.RateLimited(string(class))
				writer.Error(w, r, apierrors.RateLimited("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
