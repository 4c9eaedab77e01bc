// ratelimit.go provides per-client request limiting for the abuse-prone
// routes (login, invoice export). NewLimiter picks between an in-process
// token bucket and a Redis-backed GCRA limiter that shares its state across
// replicas.

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// staleAfter is how long a client's bucket may sit untouched before the
// janitor drops it. An idle bucket refills to full burst well inside that
// window, so eviction never hands a client tokens it had not already
// accrued.
const staleAfter = 10 * time.Minute

// RateLimitConfig tunes one limiter instance.
type RateLimitConfig struct {
	// RequestsPerMinute is the steady-state ceiling.
	RequestsPerMinute int
	// BurstSize is the bucket capacity, allowing short spikes above the
	// steady rate.
	BurstSize int
	// CleanupInterval is how often idle buckets are swept. Only the
	// in-process limiter uses it.
	CleanupInterval time.Duration
}

// LoginRateLimitConfig is the preset for the login endpoint: tight enough
// that an online password-guessing run trips it within seconds.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
	}
}

// ExportRateLimitConfig is the preset for invoice export. Every export fans
// out into provider API calls with their own quota, so this sits far below
// general API traffic levels.
func ExportRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 6,
		BurstSize:         3,
		CleanupInterval:   5 * time.Minute,
	}
}

// Decision reports the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Limit echoes the configured requests per minute.
	Limit int
	// Remaining is the whole tokens left after this request.
	Remaining int
	// RetryAfter is zero unless the request was denied.
	RetryAfter time.Duration
}

// Limiter answers whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewLimiter returns the Redis-backed limiter when rdb is non-nil and the
// in-process bucket otherwise. Replicated deployments need Redis; without it
// every replica grants the full limit on its own.
func NewLimiter(rdb *redis.Client, config RateLimitConfig) Limiter {
	if rdb != nil {
		return NewRedisLimiter(rdb, config)
	}
	return NewRateLimiter(config)
}

// bucket is the token-bucket state for one client key.
type bucket struct {
	tokens  float64
	touched time.Time
}

// RateLimiter is an in-process token bucket limiter. Each key owns a bucket
// that drains by one token per request and refills continuously at the
// configured per-minute rate, capped at BurstSize. A zero BurstSize denies
// every request since the bucket can never hold a whole token.
type RateLimiter struct {
	config   RateLimitConfig
	perSec   float64
	mu       sync.Mutex
	buckets  map[string]*bucket
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a limiter and its janitor goroutine. Callers that
// discard the limiter must Stop it or the janitor leaks.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		perSec:  float64(config.RequestsPerMinute) / 60,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow spends one token from key's bucket. The context is ignored; the
// in-process limiter never blocks.
func (rl *RateLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.config.BurstSize)}
		rl.buckets[key] = b
	} else {
		refilled := b.tokens + now.Sub(b.touched).Seconds()*rl.perSec
		b.tokens = min(float64(rl.config.BurstSize), refilled)
	}
	b.touched = now

	d := Decision{Allowed: b.tokens >= 1, Limit: rl.config.RequestsPerMinute}
	if d.Allowed {
		b.tokens--
	} else {
		d.RetryAfter = time.Minute
	}
	d.Remaining = int(b.tokens)
	return d, nil
}

// janitor sweeps buckets that have sat idle past staleAfter.
func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			rl.mu.Lock()
			for key, b := range rl.buckets {
				if b.touched.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop terminates the janitor goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RedisLimiter enforces the same ceilings through redis_rate's GCRA
// implementation, with state in Redis so all replicas draw from one budget.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter wraps rdb in a GCRA limiter equivalent to config.
func NewRedisLimiter(rdb *redis.Client, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.BurstSize,
			Period: time.Minute,
		},
	}
}

// Allow spends one request against the shared budget for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, "ratelimit:"+key, l.limit)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     l.limit.Rate,
		Remaining: res.Remaining,
	}
	// redis_rate reports RetryAfter as -1 on allowed results; keep the
	// Decision contract of zero-unless-denied.
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// RateLimitMiddleware gates requests through limiter, answering 429 with a
// Retry-After header once a client overruns its budget. Errors from the
// limiter fail open so a Redis outage cannot take the API down with it.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), clientKey(c))
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			c.Next()
			return
		}

		retryAfter := int(d.RetryAfter.Seconds())
		if retryAfter <= 0 {
			retryAfter = 60
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"retry_after": retryAfter,
		})
	}
}

// clientKey identifies the caller for limiting purposes: the authenticated
// user when AuthMiddleware has run, the client IP otherwise. Login traffic
// is pre-auth, so password-guessing runs are keyed by IP.
func clientKey(c *gin.Context) string {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uuid.UUID); ok && id != uuid.Nil {
			return "user:" + id.String()
		}
	}
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + c.Request.RemoteAddr
}
