package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	memoryMaxKeys  = 10000
	memoryIdleTime = 10 * time.Minute
)

type memoryEntry struct {
	limiter  *rate.Limiter
	cfg      Config
	lastSeen time.Time
}

// MemoryLimiter is a per-process token bucket limiter used when Redis is not
// configured. Each key refills MaxRequests tokens per Window.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	logger  *slog.Logger
	now     func() time.Time
}

// NewMemoryLimiter creates an in-process limiter
func NewMemoryLimiter(logger *slog.Logger) *MemoryLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryLimiter{
		entries: make(map[string]*memoryEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Allow consumes one token for key.
func (m *MemoryLimiter) Allow(_ context.Context, key string, cfg Config) (bool, error) {
	if cfg.Window <= 0 {
		return true, nil
	}
	now := m.now()

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok || e.cfg != cfg {
		if len(m.entries) >= memoryMaxKeys {
			m.evictLocked(now)
		}
		every := rate.Every(cfg.Window / time.Duration(max(cfg.MaxRequests, 1)))
		e = &memoryEntry{limiter: rate.NewLimiter(every, cfg.MaxRequests), cfg: cfg}
		m.entries[key] = e
	}
	e.lastSeen = now
	m.mu.Unlock()

	allowed := e.limiter.AllowN(now, 1)
	if !allowed {
		m.logger.Info("Rate limit exceeded", "key", key, "limit", cfg.MaxRequests)
	}
	return allowed, nil
}

// Reset forgets the bucket for key.
func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryLimiter) evictLocked(now time.Time) {
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) > memoryIdleTime {
			delete(m.entries, k)
		}
	}
	if len(m.entries) >= memoryMaxKeys {
		// Still full: drop everything rather than grow without bound.
		m.entries = make(map[string]*memoryEntry)
	}
}
