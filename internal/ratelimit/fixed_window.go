// Package ratelimit provides process-local, per-tenant request limiters.
//
// All state is held by explicitly constructed values so independent instances
// (one per process, one per test) never share counters. Limits are approximate
// across horizontally scaled replicas.
package ratelimit

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// Class groups routes that share a ceiling
type Class string

const (
	ClassCreate Class = "create"
	ClassList   Class = "list"
)

type windowKey struct {
	tenantID string
	class    Class
}

type window struct {
	second int64
	count  int
}

// FixedWindow counts requests per (tenant, class) in the current wall-clock
// second. The counter resets when the second changes.
type FixedWindow struct {
	mu       sync.Mutex
	limits   map[Class]int
	counters map[windowKey]*window
	clock    clock.Clock
}

// NewFixedWindow creates a limiter. A class with a ceiling of 0 is unlimited.
func NewFixedWindow(limits map[Class]int, clk clock.Clock) *FixedWindow {
	l := make(map[Class]int, len(limits))
	for c, n := range limits {
		l[c] = n
	}
	return &FixedWindow{
		limits:   l,
		counters: make(map[windowKey]*window),
		clock:    clk,
	}
}

// Allow records a request and reports whether it is within the ceiling
func (f *FixedWindow) Allow(tenantID string, class Class) bool {
	limit := f.limits[class]
	if limit <= 0 {
		return true
	}

	now := f.clock.Now().Unix()
	k := windowKey{tenantID: tenantID, class: class}

	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.counters[k]
	if !ok {
		w = &window{second: now}
		f.counters[k] = w
	}
	if w.second != now {
		w.second = now
		w.count = 0
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// Sweep drops counters of past windows
func (f *FixedWindow) Sweep() {
	now := f.clock.Now().Unix()

	f.mu.Lock()
	defer f.mu.Unlock()

	for k, w := range f.counters {
		if w.second != now {
			delete(f.counters, k)
		}
	}
}

// Len returns the number of tracked counters
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.counters)
}
