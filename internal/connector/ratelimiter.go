package connector

import (
	"sync"
	"time"
)

// RateLimiter is a fixed-window token bucket: at most MaxRequests
// calls are allowed to pass in any WindowMs window. Grounded on the
// teacher's resilience idiom in internal/circuitbreaker (a
// Config-struct-with-New(cfg)-constructor shape).
type RateLimiter struct {
	MaxRequests int
	WindowMs    int64

	mu          sync.Mutex
	windowStart time.Time
	count       int
	now         func() time.Time
}

// NewRateLimiter creates a RateLimiter with the given policy.
func NewRateLimiter(maxRequests int, windowMs int64) *RateLimiter {
	return &RateLimiter{
		MaxRequests: maxRequests,
		WindowMs:    windowMs,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed right now, incrementing the
// window counter if so.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) >= time.Duration(r.WindowMs)*time.Millisecond {
		r.windowStart = now
		r.count = 0
	}
	if r.count >= r.MaxRequests {
		return false
	}
	r.count++
	return true
}
