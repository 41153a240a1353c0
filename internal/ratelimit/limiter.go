// Package ratelimit guards the routing API. With Redis configured the
// counters are shared across instances; without it each instance enforces
// its own token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"task-router/internal/common/errors"
	"task-router/internal/redis"
)

type Config struct {
	DefaultLimit  int           `json:"default_limit"`
	DefaultWindow time.Duration `json:"default_window"`
	Enabled       bool          `json:"enabled"`
}

func defaultConfig() *Config {
	return &Config{
		DefaultLimit:  100,
		DefaultWindow: time.Minute,
		Enabled:       true,
	}
}

type RateLimit struct {
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
	ResetTime time.Time     `json:"reset_time"`
}

// Limiter answers whether a keyed caller is within its request budget.
type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimit, error)
	CheckDefaultLimit(ctx context.Context, key string) (*RateLimit, error)
}

// RedisLimiter counts requests in Redis so all instances share one budget.
type RedisLimiter struct {
	redis  *redis.Client
	config *Config
}

func NewRedisLimiter(redisClient *redis.Client, config *Config) *RedisLimiter {
	if config == nil {
		config = defaultConfig()
	}
	return &RedisLimiter{redis: redisClient, config: config}
}

func (l *RedisLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimit, error) {
	if !l.config.Enabled {
		return &RateLimit{Limit: limit, Window: window, Remaining: limit, ResetTime: time.Now().Add(window)}, nil
	}

	_, current, err := l.redis.CheckRateLimit(ctx, fmt.Sprintf("rate_limit:%s", key), limit, window)
	if err != nil {
		return nil, errors.InternalError("failed to check rate limit", err)
	}

	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimit{
		Limit:     limit,
		Window:    window,
		Remaining: remaining,
		ResetTime: time.Now().Add(window),
	}, nil
}

func (l *RedisLimiter) CheckDefaultLimit(ctx context.Context, key string) (*RateLimit, error) {
	return l.CheckLimit(ctx, key, l.config.DefaultLimit, l.config.DefaultWindow)
}

// LocalLimiter keeps an in-process token bucket per key. Used when Redis is
// not configured; limits then apply per instance.
type LocalLimiter struct {
	config  *Config
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalLimiter(config *Config) *LocalLimiter {
	if config == nil {
		config = defaultConfig()
	}
	return &LocalLimiter{
		config:  config,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) bucket(key string, limit int, window time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit)
	l.buckets[key] = b
	return b
}

func (l *LocalLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (*RateLimit, error) {
	if !l.config.Enabled {
		return &RateLimit{Limit: limit, Window: window, Remaining: limit, ResetTime: time.Now().Add(window)}, nil
	}

	b := l.bucket(key, limit, window)
	remaining := 0
	if b.Allow() {
		remaining = int(b.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		// Allow consumed a token; report at least one left for this caller.
		remaining++
	}
	return &RateLimit{
		Limit:     limit,
		Window:    window,
		Remaining: remaining,
		ResetTime: time.Now().Add(window),
	}, nil
}

func (l *LocalLimiter) CheckDefaultLimit(ctx context.Context, key string) (*RateLimit, error) {
	return l.CheckLimit(ctx, key, l.config.DefaultLimit, l.config.DefaultWindow)
}

// HTTPMiddleware enforces the default limit per key extracted from the
// request. Limiter errors fail open.
func HTTPMiddleware(l Limiter, enabled bool, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || l == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			rateLimit, err := l.CheckDefaultLimit(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rateLimit.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rateLimit.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", rateLimit.ResetTime.Unix()))

			if rateLimit.Remaining <= 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimit.Window.Seconds())))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IPBasedKey keys limits by client IP, trusting proxy headers when present.
func IPBasedKey(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", ip)
}

// EndpointBasedKey keys limits by method and path.
func EndpointBasedKey(r *http.Request) string {
	return fmt.Sprintf("endpoint:%s:%s", r.Method, r.URL.Path)
}
