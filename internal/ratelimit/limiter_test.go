package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FiligranHQ/xtm-mcp/internal/redis"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient, err := redis.New(&redis.Config{URL: "redis://" + mr.Addr()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	return NewLimiter(redisClient, testLogger()), mr
}

func TestNew(t *testing.T) {
	t.Run("without redis stays in process", func(t *testing.T) {
		_, ok := New(nil, testLogger()).(*MemoryLimiter)
		assert.True(t, ok)
	})

	t.Run("with redis is shared", func(t *testing.T) {
		limiter, _ := setupTestLimiter(t)
		_, ok := New(limiter.redis, testLogger()).(*Limiter)
		assert.True(t, ok)
	})
}

func TestLimiterAllow(t *testing.T) {
	ctx := context.Background()
	cfg := Config{MaxRequests: 3, Window: time.Minute}

	t.Run("blocks once the window is full", func(t *testing.T) {
		limiter, _ := setupTestLimiter(t)
		key := "203.0.113.1:mcp_request"

		for i := 0; i < cfg.MaxRequests; i++ {
			allowed, err := limiter.Allow(ctx, key, cfg)
			require.NoError(t, err)
			assert.True(t, allowed, "request %d", i+1)
		}

		allowed, err := limiter.Allow(ctx, key, cfg)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("clients and endpoint types are counted apart", func(t *testing.T) {
		limiter, _ := setupTestLimiter(t)
		tight := Config{MaxRequests: 1, Window: time.Minute}

		for _, key := range []string{"203.0.113.1:mcp_request", "203.0.113.2:mcp_request", "203.0.113.1:default"} {
			allowed, err := limiter.Allow(ctx, key, tight)
			require.NoError(t, err)
			assert.True(t, allowed, key)
		}
	})

	t.Run("counters are namespaced and expire", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t)
		key := "203.0.113.3:mcp_request"

		_, err := limiter.Allow(ctx, key, cfg)
		require.NoError(t, err)

		keys := mr.Keys()
		require.Len(t, keys, 1)
		assert.Contains(t, keys[0], keyPrefix+key+":")
		assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))
	})

	t.Run("window expiry resets the count", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t)
		key := "203.0.113.4:mcp_request"
		short := Config{MaxRequests: 1, Window: time.Second}

		allowed, err := limiter.Allow(ctx, key, short)
		require.NoError(t, err)
		require.True(t, allowed)

		// Both the bucket and the wall clock move on
		mr.FastForward(2 * time.Second)
		time.Sleep(1100 * time.Millisecond)

		allowed, err = limiter.Allow(ctx, key, short)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("sub-second window fails open", func(t *testing.T) {
		limiter, _ := setupTestLimiter(t)

		allowed, err := limiter.Allow(ctx, "k", Config{MaxRequests: 1, Window: 500 * time.Millisecond})
		assert.Error(t, err)
		assert.True(t, allowed)
	})

	t.Run("redis outage fails open", func(t *testing.T) {
		limiter, mr := setupTestLimiter(t)
		mr.Close()

		allowed, err := limiter.Allow(ctx, "203.0.113.5:mcp_request", cfg)
		assert.Error(t, err)
		assert.True(t, allowed)
	})
}

func TestLimiterConcurrentRequests(t *testing.T) {
	limiter, _ := setupTestLimiter(t)
	ctx := context.Background()
	cfg := Config{MaxRequests: 10, Window: time.Minute}

	var allowedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, err := limiter.Allow(ctx, "203.0.113.6:mcp_request", cfg); err == nil && allowed {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(cfg.MaxRequests), allowedCount.Load())
}

func TestLimiterReset(t *testing.T) {
	limiter, mr := setupTestLimiter(t)
	ctx := context.Background()
	cfg := Config{MaxRequests: 1, Window: time.Minute}
	key := "203.0.113.7:mcp_request"

	_, err := limiter.Allow(ctx, key, cfg)
	require.NoError(t, err)
	require.NoError(t, mr.Set("xtm-mcp:schema:cti:sdl", "payload"))

	require.NoError(t, limiter.Reset(ctx, key))

	allowed, err := limiter.Allow(ctx, key, cfg)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, mr.Exists("xtm-mcp:schema:cti:sdl"), "reset must not touch other keys")
}

func TestDefaultConfigs(t *testing.T) {
	for _, name := range []string{"mcp_request", "default"} {
		cfg, ok := DefaultConfigs[name]
		require.True(t, ok, name)
		assert.Positive(t, cfg.MaxRequests)
		assert.GreaterOrEqual(t, cfg.Window, time.Second)
	}
}
