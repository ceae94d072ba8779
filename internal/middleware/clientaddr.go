package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/devrev/qrcore/internal/reqctx"
)

// ForwardedForHeader lists the proxies a request passed through
const ForwardedForHeader = "X-Forwarded-For"

// ClientAddr resolves the caller address from the transport peer and stores it
// in the request context. X-Forwarded-For is only read when the peer is one of
// the trusted proxies; hops are walked from the right and the first untrusted
// one is the caller.
func ClientAddr(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := resolveClientAddr(r, trusted)
			next.ServeHTTP(w, r.WithContext(reqctx.WithClientAddr(r.Context(), addr)))
		})
	}
}

// PeerAddr returns the host of the transport peer
func PeerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func resolveClientAddr(r *http.Request, trusted []netip.Prefix) string {
	peer := PeerAddr(r)
	if len(trusted) == 0 {
		return peer
	}
	addr, err := netip.ParseAddr(peer)
	if err != nil || !isTrusted(addr, trusted) {
		return peer
	}

	hops := strings.Split(r.Header.Get(ForwardedForHeader), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			// A malformed chain cannot be attributed past the proxy
			return peer
		}
		if !isTrusted(hop, trusted) {
			return hop.Unmap().String()
		}
	}
	return peer
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
