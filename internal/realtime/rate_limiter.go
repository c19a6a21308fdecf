package realtime

import (
	"sync"
	"time"
)

// RateLimiter meters inbound frames on a single realtime connection with a
// sliding window. Malformed frames are charged the same as valid events, so
// a misbehaving client cannot spam the gateway for free.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time // admission times inside the window, oldest first
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter with safe defaults when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether a frame arriving at "now" should be admitted, and
// charges the window when it is.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}

// Remaining reports how many more frames the window admits at "now" without
// charging it.
func (r *RateLimiter) Remaining(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(now)
	if n := r.limit - len(r.stamps); n > 0 {
		return n
	}
	return 0
}

// prune drops stamps that slid out of the window. Caller holds r.mu.
// Stamps are appended in arrival order, so the expired prefix is contiguous.
func (r *RateLimiter) prune(now time.Time) {
	cut := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cut) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
