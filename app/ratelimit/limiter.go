package ratelimit

import (
	"math"
	"strings"
	"sync"
	"time"
)

// sweepThreshold is the bucket count above which expired buckets are
// evicted during Check, keeping the map bounded by active callers.
const sweepThreshold = 1024

type Result struct {
	OK                bool
	RetryAfterSeconds int
}

type bucket struct {
	count         int
	windowResetAt time.Time
}

// Limiter is a fixed-window request counter keyed by an opaque string,
// typically "<scope>:<client-ip>". State is process-local and lost on
// restart.
type Limiter struct {
	window  time.Duration
	max     int
	now     func() time.Time
	mu      sync.Mutex
	buckets map[string]*bucket
}

func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:  window,
		max:     max,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// NewLimiterWithClock allows tests to supply a deterministic clock.
func NewLimiterWithClock(window time.Duration, max int, now func() time.Time) *Limiter {
	l := NewLimiter(window, max)
	l.now = now
	return l
}

func (l *Limiter) Check(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if len(l.buckets) > sweepThreshold {
		l.sweep(now)
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.windowResetAt) {
		l.buckets[key] = &bucket{count: 1, windowResetAt: now.Add(l.window)}
		return Result{OK: true}
	}

	if b.count < l.max {
		b.count++
		return Result{OK: true}
	}

	retryAfter := int(math.Ceil(b.windowResetAt.Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return Result{OK: false, RetryAfterSeconds: retryAfter}
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.windowResetAt) {
			delete(l.buckets, key)
		}
	}
}

// ClientKey derives a rate-limit key from proxy headers. The first
// X-Forwarded-For entry wins, then X-Real-Ip, then a sentinel so that
// callers without any address information still share one bucket.
func ClientKey(scope, forwardedFor, realIP string) string {
	first, _, _ := strings.Cut(forwardedFor, ",")

	ip := strings.TrimSpace(first)
	if ip == "" {
		ip = strings.TrimSpace(realIP)
	}
	if ip == "" {
		ip = "unknown"
	}

	return scope + ":" + ip
}
