// Package ratelimit implements the kernel's token-bucket rate limiter:
// lazy refill on consume, keyed by (principal_id, resource_uri), with a
// periodic sweep for idle buckets. Bucket state is inspectable — callers
// can read remaining tokens without consuming — which rules out
// reusing an opaque limiter like golang.org/x/time/rate for this role.
package ratelimit

import (
	"sync"
	"time"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
)

const (
	// DefaultRefillPeriod is rate_limit_refill_period_seconds.
	DefaultRefillPeriod = 3600 * time.Second
	// DefaultBucketTTL is rate_limit_bucket_ttl_seconds.
	DefaultBucketTTL = 3600 * time.Second
	// DefaultCleanupInterval is rate_limit_cleanup_interval_ms.
	DefaultCleanupInterval = 300 * time.Second
)

type bucketKey struct {
	principalID string
	resourceURI string
}

// bucket is the mutable per-key state from spec §3: tokens plus the two
// timestamps governing refill and TTL sweep.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastTouch  time.Time
}

// Limiter is the rate limiter actor: all bucket mutation is serialized
// through a single mutex, matching the "atomic per key" requirement —
// a coarser lock than strictly necessary, but the bucket map itself must
// stay consistent with the sweep, so one lock covers both.
type Limiter struct {
	refillPeriod time.Duration
	bucketTTL    time.Duration

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// NewLimiter builds a Limiter. Zero durations fall back to spec defaults.
func NewLimiter(refillPeriod, bucketTTL time.Duration) *Limiter {
	if refillPeriod <= 0 {
		refillPeriod = DefaultRefillPeriod
	}
	if bucketTTL <= 0 {
		bucketTTL = DefaultBucketTTL
	}
	return &Limiter{
		refillPeriod: refillPeriod,
		bucketTTL:    bucketTTL,
		buckets:      make(map[bucketKey]*bucket),
	}
}

// Consume attempts to take one token from the (principal, resource)
// bucket, creating it full at maxTokens on first use. Returns the
// remaining token count (post-consume on success, pre-consume on
// rejection) and ErrRateLimited if no token was available.
func (l *Limiter) Consume(principalID, resourceURI string, maxTokens float64, now time.Time) (remaining float64, err error) {
	key := bucketKey{principalID: principalID, resourceURI: resourceURI}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: maxTokens, lastRefill: now, lastTouch: now}
		l.buckets[key] = b
	} else {
		l.refillLocked(b, maxTokens, now)
	}

	if b.tokens >= 1 {
		b.tokens--
		b.lastTouch = now
		return b.tokens, nil
	}
	b.lastTouch = now
	return b.tokens, kernelerr.ErrRateLimited
}

// Remaining reports the bucket's token count without consuming, applying
// refill as of now so a reader observes an up-to-date estimate. Per spec
// §5, readers need not see a freshly-mutated count from a concurrent
// Consume — this is a best-effort snapshot.
func (l *Limiter) Remaining(principalID, resourceURI string, maxTokens float64, now time.Time) float64 {
	key := bucketKey{principalID: principalID, resourceURI: resourceURI}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		return maxTokens
	}
	l.refillLocked(b, maxTokens, now)
	return b.tokens
}

func (l *Limiter) refillLocked(b *bucket, maxTokens float64, now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	refilled := elapsed.Seconds() / l.refillPeriod.Seconds() * maxTokens
	b.tokens += refilled
	if b.tokens > maxTokens {
		b.tokens = maxTokens
	}
	b.lastRefill = now
}

// Sweep removes buckets whose last_touch is older than the configured
// bucket TTL. Intended to run every cleanup_interval_ms from a background
// ticker.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.bucketTTL)
	removed := 0
	for key, b := range l.buckets {
		if b.lastTouch.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked buckets, for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
