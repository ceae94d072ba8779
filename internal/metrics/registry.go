// Package metrics keeps per-route request statistics in process memory and
// mirrors them into a Prometheus registry for scraping.
package metrics

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// sampleWindow is the number of latency samples kept per route
const sampleWindow = 200

type routeStats struct {
	count   int64
	errors  int64
	samples [sampleWindow]time.Duration
	next    int
	filled  int
}

func (s *routeStats) observe(latency time.Duration, failed bool) {
	s.count++
	if failed {
		s.errors++
	}
	s.samples[s.next] = latency
	s.next = (s.next + 1) % sampleWindow
	if s.filled < sampleWindow {
		s.filled++
	}
}

func (s *routeStats) p95() time.Duration {
	if s.filled == 0 {
		return 0
	}
	sorted := slices.Clone(s.samples[:s.filled])
	slices.Sort(sorted)
	idx := (s.filled*95+99)/100 - 1
	return sorted[idx]
}

// RouteSnapshot is the point-in-time view of one route
type RouteSnapshot struct {
	Route        string  `json:"route"`
	Count        int64   `json:"count"`
	Errors       int64   `json:"errors"`
	P95LatencyMs float64 `json:"p95_latency_ms"`
}

// Registry aggregates request outcomes per route. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	routes map[string]*routeStats
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]*routeStats)}
}

// Observe records one completed request. Statuses of 400 and above count as errors.
func (r *Registry) Observe(route string, status int, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.routes[route]
	if !ok {
		s = &routeStats{}
		r.routes[route] = s
	}
	s.observe(latency, status >= 400)
}

// Snapshot returns the statistics of every route, ordered by route
func (r *Registry) Snapshot() []RouteSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RouteSnapshot, 0, len(r.routes))
	for route, s := range r.routes {
		out = append(out, RouteSnapshot{
			Route:        route,
			Count:        s.count,
			Errors:       s.errors,
			P95LatencyMs: float64(s.p95()) / float64(time.Millisecond),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Route < out[j].Route })
	return out
}
