package middleware

import (
	"net/http"
	"time"

	"github.com/devrev/qrcore/internal/metrics"
	"github.com/devrev/qrcore/internal/reqctx"
	"go.uber.org/zap"
)

// Request outcomes reported in logs
const (
	OutcomeSuccess     = "success"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
	OutcomeCanceled    = "canceled"
	OutcomePanic       = "panic"
)

// routeUnmatched labels requests no route matched, keeping metric cardinality bounded
const routeUnmatched = "unmatched"

// Observe emits one log line and one metrics observation per request. The
// completion hook is deferred so it also fires when the handler panics or the
// client goes away; a panic is re-raised for Recovery to answer.
func Observe(collector *metrics.Collector, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &reqctx.Info{}
			r = r.WithContext(reqctx.WithInfo(r.Context(), info))
			rw := newResponseWriter(w)

			defer func() {
				rec := recover()

				status := rw.statusCode
				outcome := outcomeOf(status)
				switch {
				case rec != nil:
					status = http.StatusInternalServerError
					outcome = OutcomePanic
				case r.Context().Err() != nil:
					outcome = OutcomeCanceled
				}

				route := info.Route()
				if route == "" {
					route = routeUnmatched
				}
				latency := time.Since(start)
				tenantID, vehicleID, driverID := info.Snapshot()

				logger.Info("HTTP request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("route", route),
					zap.Int("status", status),
					zap.String("tenant_id", tenantID),
					zap.String("request_id", reqctx.RequestID(r.Context())),
					zap.String("vehicle_id", vehicleID),
					zap.String("driver_id", driverID),
					zap.Float64("latency_ms", float64(latency.Microseconds())/1000),
					zap.String("outcome", outcome),
				)
				collector.ObserveRequest(r.Method, route, status, latency)

				if rec != nil {
					panic(rec)
				}
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

func outcomeOf(status int) string {
	switch {
	case status >= 500:
		return OutcomeServerError
	case status >= 400:
		return OutcomeClientError
	default:
		return OutcomeSuccess
	}
}
