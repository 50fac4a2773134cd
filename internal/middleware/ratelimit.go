package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by student. The key is the
// user ID only, not user and tab, so opening tabs does not raise the limit.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing limit events per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Exhausted reports whether key has used up its events for the current
// window. It records nothing.
func (r *RateLimiter) Exhausted(key string) bool {
	if r.limit <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := prune(r.requests[key], r.now().Add(-r.window))
	r.requests[key] = recent
	return len(recent) >= r.limit
}

// Record charges one event to key.
func (r *RateLimiter) Record(key string) {
	if r.limit <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[key] = append(r.requests[key], r.now())
}

// Run evicts idle keys every window until ctx is done, bounding memory.
func (r *RateLimiter) Run(ctx context.Context) error {
	if r.limit <= 0 || r.window <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evict()
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.window)
	for key, times := range r.requests {
		if fresh := prune(times, cutoff); len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	var fresh []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
