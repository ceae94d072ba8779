package metrics

import "time"

// Collector fans observations out to the in-memory registry and, when
// configured, the Prometheus mirror. A nil *Collector discards everything.
type Collector struct {
	registry *Registry
	prom     *Prometheus
}

// NewCollector creates a collector. prom may be nil.
func NewCollector(registry *Registry, prom *Prometheus) *Collector {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Collector{registry: registry, prom: prom}
}

// Registry returns the in-memory registry
func (c *Collector) Registry() *Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Prometheus returns the Prometheus mirror, or nil
func (c *Collector) Prometheus() *Prometheus {
	if c == nil {
		return nil
	}
	return c.prom
}

// ObserveRequest records one completed request
func (c *Collector) ObserveRequest(method, route string, status int, latency time.Duration) {
	if c == nil {
		return
	}
	c.registry.Observe(method+" "+route, status, latency)
	if c.prom != nil {
		c.prom.RecordHTTPRequest(method, route, status, latency)
	}
}

// RateLimited counts a rejection by limiter
func (c *Collector) RateLimited(limiter string) {
	if c == nil || c.prom == nil {
		return
	}
	c.prom.RecordRateLimited(limiter)
}

// Idempotency counts an idempotency decision
func (c *Collector) Idempotency(decision string) {
	if c == nil || c.prom == nil {
		return
	}
	c.prom.RecordIdempotency(decision)
}

// Scan counts a recorded scan
func (c *Collector) Scan(attributed bool) {
	if c == nil || c.prom == nil {
		return
	}
	c.prom.RecordScan(attributed)
}
