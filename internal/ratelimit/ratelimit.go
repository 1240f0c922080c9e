package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
	lastUse    time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		rate:       float64(rate),
		lastRefill: now,
		lastUse:    now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	return tb.allowAt(time.Now())
}

func (tb *TokenBucket) allowAt(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
	tb.lastUse = now

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) idleSince(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return now.Sub(tb.lastUse)
}

// Limiter throttles accepted connections globally and per source address.
// A zero rate disables the corresponding limit.
type Limiter struct {
	mu         sync.Mutex
	global     *TokenBucket
	perSource  map[string]*TokenBucket
	sourceRate int
	burst      int
}

// New creates a limiter. globalRate and sourceRate are connections per second.
func New(globalRate, sourceRate, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		perSource:  make(map[string]*TokenBucket),
		sourceRate: sourceRate,
		burst:      burst,
	}
	if globalRate > 0 {
		l.global = NewTokenBucket(globalRate, burst)
	}
	return l
}

// Enabled reports whether any limit is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && (l.global != nil || l.sourceRate > 0)
}

// Allow checks the global bucket first, then the bucket of source.
func (l *Limiter) Allow(source string) bool {
	return l.allowAt(source, time.Now())
}

func (l *Limiter) allowAt(source string, now time.Time) bool {
	if !l.Enabled() {
		return true
	}
	if l.global != nil && !l.global.allowAt(now) {
		return false
	}
	if l.sourceRate <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.perSource[source]
	if !ok {
		bucket = NewTokenBucket(l.sourceRate, l.burst)
		bucket.lastRefill, bucket.lastUse = now, now
		l.perSource[source] = bucket
	}
	l.mu.Unlock()
	return bucket.allowAt(now)
}

// Prune drops per-source buckets unused for longer than maxIdle and returns how many were removed.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	return l.pruneAt(maxIdle, time.Now())
}

func (l *Limiter) pruneAt(maxIdle time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for source, bucket := range l.perSource {
		if bucket.idleSince(now) > maxIdle {
			delete(l.perSource, source)
			removed++
		}
	}
	return removed
}
