// Package ratelimit implements per-host token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/listcrawler/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	hosts        map[string]rate.Limit
	metrics      *metrics.Recorder
}

// Config holds rate limiter configuration. Hosts overrides the default rate
// for specific hostnames.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]float64
}

// New creates a Limiter. A non-positive rate disables limiting.
func New(cfg Config, rec *metrics.Recorder) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	hosts := make(map[string]rate.Limit, len(cfg.Hosts))
	for host, rps := range cfg.Hosts {
		hosts[host] = rate.Limit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		hosts:        hosts,
		metrics:      rec,
	}
}

// Wait blocks until a token is available for the URL's host or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		l.metrics.RateLimitDelay(rawURL, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		r, custom := l.hosts[host]
		if !custom {
			r = l.defaultRate
		}
		limiter = rate.NewLimiter(r, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}
