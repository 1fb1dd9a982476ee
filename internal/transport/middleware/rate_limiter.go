// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRetryAfter         = "Retry-After"
)

type rateLimitDecision struct {
	Allowed           bool
	LimitPerMinute    int
	Remaining         int
	RetryAfterSeconds int
}

type tokenBucket struct {
	capacity        float64
	tokens          float64
	refillPerSecond float64
	lastRefill      time.Time
}

// bucketIdleTTL is how long an untouched bucket is kept. A bucket refills
// completely within a minute, so dropping it after that loses no state.
const bucketIdleTTL = time.Minute

type inMemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

func newInMemoryRateLimiter() *inMemoryRateLimiter {
	return &inMemoryRateLimiter{
		buckets: make(map[string]*tokenBucket, 32),
	}
}

func (l *inMemoryRateLimiter) Allow(key string, limitPerMinute int, now time.Time) rateLimitDecision {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}

	capacity := float64(limitPerMinute)
	refillPerSecond := capacity / 60.0

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	bucket, ok := l.buckets[key]
	if !ok || bucket.capacity != capacity {
		bucket = &tokenBucket{
			capacity:        capacity,
			tokens:          capacity,
			refillPerSecond: refillPerSecond,
			lastRefill:      now,
		}
		l.buckets[key] = bucket
	}

	elapsedSeconds := now.Sub(bucket.lastRefill).Seconds()
	if elapsedSeconds > 0 {
		bucket.tokens += elapsedSeconds * bucket.refillPerSecond
		if bucket.tokens > bucket.capacity {
			bucket.tokens = bucket.capacity
		}
		bucket.lastRefill = now
	}

	decision := rateLimitDecision{
		Allowed:        false,
		LimitPerMinute: limitPerMinute,
		Remaining:      int(math.Floor(bucket.tokens)),
	}

	if bucket.tokens >= 1 {
		bucket.tokens -= 1
		decision.Allowed = true
		decision.Remaining = int(math.Floor(bucket.tokens))
		return decision
	}

	missingTokens := 1 - bucket.tokens
	waitSeconds := int(math.Ceil(missingTokens / bucket.refillPerSecond))
	if waitSeconds < 1 {
		waitSeconds = 1
	}
	decision.RetryAfterSeconds = waitSeconds
	return decision
}

// sweep drops buckets idle for longer than bucketIdleTTL, at most once per
// TTL. Callers hold l.mu.
func (l *inMemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < bucketIdleTTL {
		return
	}
	l.lastSweep = now
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastRefill) >= bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
}

// KeyFunc names the bucket a request draws from.
type KeyFunc func(r *http.Request) string

// RemoteAddrKey keys requests by remote host and ignores any credentials.
func RemoteAddrKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// BearerKey keys requests by bearer token, falling back to the remote host.
// Only use it behind BearerAuth: an unchecked token is caller-chosen.
func BearerKey(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return "token:" + token
	}
	return RemoteAddrKey(r)
}

// RateLimit applies a per-key token bucket of limitPerMinute requests.
func RateLimit(limitPerMinute int, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return rateLimitWithLimiter(limitPerMinute, key, newInMemoryRateLimiter(), time.Now, logger)
}

func rateLimitWithLimiter(
	limitPerMinute int,
	key KeyFunc,
	limiter *inMemoryRateLimiter,
	now func() time.Time,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("middleware.RateLimit requires a limiter")
	}
	if key == nil {
		key = RemoteAddrKey
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(key(r), limitPerMinute, now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				logger.Warn("request rate limited",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"retry_after_s", decision.RetryAfterSeconds,
				)
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
