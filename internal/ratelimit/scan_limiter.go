package ratelimit

import "sync"

type scanKey struct {
	tenantID string
	ip       string
}

// ScanLimiter caps scans per (tenant, caller address) between sweeps.
// Counters are cleared by a Sweeper, typically once a minute.
type ScanLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[scanKey]int
}

// NewScanLimiter creates a limiter. A limit of 0 disables it.
func NewScanLimiter(limit int) *ScanLimiter {
	return &ScanLimiter{
		limit:  limit,
		counts: make(map[scanKey]int),
	}
}

// Allow records a scan and reports whether the caller is within the limit
func (l *ScanLimiter) Allow(tenantID, ip string) bool {
	if l.limit <= 0 {
		return true
	}

	k := scanKey{tenantID: tenantID, ip: ip}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.counts[k] >= l.limit {
		return false
	}
	l.counts[k]++
	return true
}

// Sweep clears all counters
func (l *ScanLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.counts)
}

// Len returns the number of tracked callers
func (l *ScanLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
