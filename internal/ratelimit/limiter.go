// Package ratelimit implements the per-peer rate limiter (§4.11): a
// token bucket refilled at requests_per_minute/60 tokens per second,
// capped at burst_size, layered with rolling minute/hour counters and a
// temporary block list for repeat offenders.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes one Limiter instance; all peers share these parameters.
type Config struct {
	RequestsPerMinute float64
	BurstSize         int
	// ViolationsToBlock is how many consecutive rejections trigger a
	// temporary block; 0 or less selects the default of 5.
	ViolationsToBlock int
	BlockDuration     time.Duration
	IdleEvictAfter    time.Duration
}

func (c *Config) normalize() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 10
	}
	if c.ViolationsToBlock <= 0 {
		c.ViolationsToBlock = 5
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = time.Minute
	}
	if c.IdleEvictAfter <= 0 {
		c.IdleEvictAfter = 10 * time.Minute
	}
}

// bucket is one peer's rate-limiting state (§4: RateBucket).
type bucket struct {
	limiter      *rate.Limiter
	minuteCount  []time.Time
	hourCount    []time.Time
	violations   int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Decision is the result of an Allow check.
type Decision struct {
	Allowed      bool
	RetryAfter   time.Duration
	BlockedUntil time.Time
}

// Limiter applies Config's token bucket plus rolling-window accounting
// per peer key, with periodic eviction of idle peer buckets.
type Limiter struct {
	cfg   Config
	mu    sync.Mutex
	byKey map[string]*bucket
	hits  uint64
}

func New(cfg Config) *Limiter {
	cfg.normalize()
	return &Limiter{cfg: cfg, byKey: make(map[string]*bucket)}
}

// Allow consumes one token for key at now, returning whether the
// request is allowed and, if not, how long until the next token (or
// until the block expires).
func (l *Limiter) Allow(key string, now time.Time) Decision {
	key = strings.TrimSpace(key)
	if key == "" {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{
			limiter:  rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60.0), l.cfg.BurstSize),
			lastSeen: now,
		}
		l.byKey[key] = b
	}
	b.lastSeen = now

	if now.Before(b.blockedUntil) {
		return Decision{Allowed: false, RetryAfter: b.blockedUntil.Sub(now), BlockedUntil: b.blockedUntil}
	}

	b.minuteCount = pruneWindow(b.minuteCount, now, time.Minute)
	b.hourCount = pruneWindow(b.hourCount, now, time.Hour)

	reservation := b.limiter.ReserveN(now, 1)
	retryAfter := reservation.DelayFrom(now)
	allowed := reservation.OK() && retryAfter == 0

	withinMinuteBudget := len(b.minuteCount) < int(l.cfg.RequestsPerMinute)+l.cfg.BurstSize
	if allowed && !withinMinuteBudget {
		allowed = false
		retryAfter = time.Minute
	}
	if !allowed {
		reservation.CancelAt(now)
	}

	l.hits++
	if l.hits%512 == 0 {
		l.evictIdleLocked(now)
	}

	if !allowed {
		b.violations++
		if b.violations >= l.cfg.ViolationsToBlock {
			b.blockedUntil = now.Add(l.cfg.BlockDuration)
			b.violations = 0
			return Decision{Allowed: false, RetryAfter: l.cfg.BlockDuration, BlockedUntil: b.blockedUntil}
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.violations = 0
	b.minuteCount = append(b.minuteCount, now)
	b.hourCount = append(b.hourCount, now)
	return Decision{Allowed: true}
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (l *Limiter) evictIdleLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.IdleEvictAfter)
	for k, b := range l.byKey {
		if b.lastSeen.Before(cutoff) {
			delete(l.byKey, k)
		}
	}
}

// Len reports the number of currently tracked peer buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}
