package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/redis"
)

// Allower decides whether a request identified by key may proceed.
type Allower interface {
	Allow(ctx context.Context, key string, cfg Config) (bool, error)
	Reset(ctx context.Context, key string) error
}

// keyPrefix keeps counters apart from the schema payloads sharing the
// same Redis database.
const keyPrefix = "xtm-mcp:ratelimit:"

// Limiter implements Redis-based rate limiting with fixed window counters
// shared by every server instance.
type Limiter struct {
	redis  *redis.Client
	logger *slog.Logger
}

// Config holds rate limit configuration for an endpoint
type Config struct {
	MaxRequests int           // Maximum requests allowed
	Window      time.Duration // Time window for the limit
}

// New returns a Redis-backed limiter when a client is available and an
// in-process one otherwise.
func New(redisClient *redis.Client, logger *slog.Logger) Allower {
	if redisClient == nil {
		return NewMemoryLimiter(logger)
	}
	return NewLimiter(redisClient, logger)
}

// NewLimiter creates a new rate limiter
func NewLimiter(redisClient *redis.Client, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		redis:  redisClient,
		logger: logger,
	}
}

// Allow checks if a request should be allowed based on rate limits.
// Returns true if allowed, false if rate limit exceeded. Errors always come
// with allowed=true so callers fail open.
func (l *Limiter) Allow(ctx context.Context, key string, cfg Config) (bool, error) {
	if cfg.Window < time.Second {
		return true, fmt.Errorf("rate limit window %s must be >= 1 second", cfg.Window)
	}

	counter := bucketKey(key, cfg.Window, time.Now())

	count, err := l.redis.Incr(ctx, counter)
	if err != nil {
		l.logger.Warn("Rate limit check failed, allowing request", "key", key, "error", err)
		return true, err
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, counter, cfg.Window); err != nil {
			l.logger.Warn("Failed to set rate limit expiration", "key", key, "error", err)
		}
	}

	allowed := count <= int64(cfg.MaxRequests)
	if !allowed {
		l.logger.Info("Rate limit exceeded", "key", key, "count", count, "limit", cfg.MaxRequests)
	}

	return allowed, nil
}

// bucketKey names the counter of the fixed window containing now.
func bucketKey(key string, window time.Duration, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, key, now.Unix()/int64(window.Seconds()))
}

// Reset clears every window of a key
func (l *Limiter) Reset(ctx context.Context, key string) error {
	_, err := l.redis.DelPattern(ctx, keyPrefix+key+":*")
	return err
}

// DefaultConfigs are the limits per endpoint type. "mcp_request" covers
// JSON-RPC calls and is normally replaced by RATE_LIMIT_REQUESTS/WINDOW.
var DefaultConfigs = map[string]Config{
	"mcp_request": {
		MaxRequests: 600,
		Window:      time.Minute,
	},
	"default": {
		MaxRequests: 100,
		Window:      time.Minute,
	},
}
