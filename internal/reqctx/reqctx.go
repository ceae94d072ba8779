// Package reqctx carries per-request identity and observability state through context.
package reqctx

import (
	"context"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey ContextKey = "request_id"
	// TenantIDKey is the context key for the resolved tenant.
	TenantIDKey ContextKey = "tenant_id"
	// ClaimsKey is the context key for verified token claims.
	ClaimsKey ContextKey = "claims"
	// InfoKey is the context key for the mutable request info.
	InfoKey ContextKey = "request_info"
	// ClientAddrKey is the context key for the resolved caller address.
	ClientAddrKey ContextKey = "client_addr"
)

// Info is filled in by handlers and read by the completion hook.
// It is created once per request by the observability middleware.
type Info struct {
	mu        sync.Mutex
	route     string
	tenantID  string
	vehicleID string
	driverID  string
}

// SetRoute records the matched route template.
func (i *Info) SetRoute(route string) {
	i.mu.Lock()
	i.route = route
	i.mu.Unlock()
}

// Route returns the matched route template, or "".
func (i *Info) Route() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.route
}

// SetTenant records the tenant that served the request.
func (i *Info) SetTenant(tenantID string) {
	i.mu.Lock()
	i.tenantID = tenantID
	i.mu.Unlock()
}

// SetAttribution records the vehicle and driver resolved for the request.
func (i *Info) SetAttribution(vehicleID, driverID string) {
	i.mu.Lock()
	i.vehicleID = vehicleID
	i.driverID = driverID
	i.mu.Unlock()
}

// Snapshot returns tenant, vehicle and driver ids.
func (i *Info) Snapshot() (tenantID, vehicleID, driverID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tenantID, i.vehicleID, i.driverID
}

// WithRequestID stores the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithTenant stores the resolved tenant id and mirrors it into Info when present.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if info := InfoFrom(ctx); info != nil {
		info.SetTenant(tenantID)
	}
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// TenantID returns the resolved tenant id, or "".
func TenantID(ctx context.Context) string {
	id, _ := ctx.Value(TenantIDKey).(string)
	return id
}

// WithClaims stores verified token claims.
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// Claims returns the verified token claims, or nil.
func Claims(ctx context.Context) jwt.MapClaims {
	c, _ := ctx.Value(ClaimsKey).(jwt.MapClaims)
	return c
}

// WithInfo attaches a fresh Info.
func WithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, InfoKey, info)
}

// InfoFrom returns the request Info, or nil outside the observability middleware.
func InfoFrom(ctx context.Context) *Info {
	info, _ := ctx.Value(InfoKey).(*Info)
	return info
}

// WithClientAddr stores the caller address resolved from the transport peer.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ClientAddrKey, addr)
}

// ClientAddr returns the resolved caller address, or "".
func ClientAddr(ctx context.Context) string {
	addr, _ := ctx.Value(ClientAddrKey).(string)
	return addr
}
