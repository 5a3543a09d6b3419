// Package ratelimit paces requests per target host with a token bucket.
// Waiting callers suspend until a token is available; there is no polling.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// HostLimiter holds one token bucket per host. Buckets are created lazily
// on first use; hosts pace independently, so a slow host never throttles a
// fast one.
type HostLimiter struct {
	defaultRate  rate.Limit
	defaultBurst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a limiter that allows requestsPerSecond sustained with the
// given burst capacity per host.
func New(requestsPerSecond float64, burst int) *HostLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
		buckets:      make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host's bucket yields a token or the context is
// cancelled.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	return h.bucket(host).Wait(ctx)
}

// Allow reports whether a token is immediately available without taking
// the suspension path. Used by tests and opportunistic probes.
func (h *HostLimiter) Allow(host string) bool {
	return h.bucket(host).Allow()
}

// ApplyCrawlDelay lowers a host's refill rate to honour a robots.txt
// Crawl-delay. It only ever slows a host down, never speeds it up, and a
// delayed host loses its burst allowance.
func (h *HostLimiter) ApplyCrawlDelay(host string, delay time.Duration) {
	if delay <= 0 {
		return
	}

	declared := rate.Every(delay)
	bucket := h.bucket(host)
	if declared >= bucket.Limit() {
		return
	}

	bucket.SetLimit(declared)
	bucket.SetBurst(1)

	log.Debug().
		Str("host", host).
		Dur("crawl_delay", delay).
		Msg("Applied robots.txt crawl-delay to host pacing")
}

// Rate returns the host's current refill rate in tokens per second.
func (h *HostLimiter) Rate(host string) float64 {
	return float64(h.bucket(host).Limit())
}

func (h *HostLimiter) bucket(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucket, ok := h.buckets[host]
	if !ok {
		bucket = rate.NewLimiter(h.defaultRate, h.defaultBurst)
		h.buckets[host] = bucket
	}
	return bucket
}
