// Package ratelimit implements the fixed-window, per-client-key request
// limiter placed in front of all HTTP endpoints.
package ratelimit

import (
	"net/http"
	"sync"
	"time"
)

// Config controls the window size and request budget per window.
type Config struct {
	Requests uint64
	Window   time.Duration
}

type bucket struct {
	count       uint64
	windowStart time.Time
}

// Limiter tracks one bucket per client key. Buckets are never garbage
// collected, a bounded leak that is acceptable for a known client
// population; operators exposed to the open internet should add periodic
// GC themselves.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a rate limiter with the given configuration.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks and updates the bucket for key, returning true if the
// request may proceed.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	if now.Sub(b.windowStart) > l.cfg.Window {
		b.count = 0
		b.windowStart = now
	}

	if b.count < l.cfg.Requests {
		b.count++
		return true
	}
	return false
}

// ClientKey extracts the rate-limit key for an HTTP request: the
// "Forwarded" header if present, otherwise the peer's socket address.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
