package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// Fetcher is the remote side of a Source, normally a *graphql.Client.
type Fetcher interface {
	Do(ctx context.Context, op, query string, variables map[string]interface{}) (*graphql.Response, error)
	FetchSDL(ctx context.Context) (string, error)
}

// PayloadStore shares raw schema payloads between processes. Load returns
// nil, nil on a miss.
type PayloadStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// Observer receives cache and fetch events, e.g. for metrics.
type Observer interface {
	ObserveSchemaCache(mode string, hit bool)
	ObserveSchemaFetch(mode, origin string, err error, duration time.Duration)
}

// SourceOptions configures a Source. Zero values are valid.
type SourceOptions struct {
	// TTL bounds how long a cached snapshot is served before the next call
	// refetches. Zero keeps snapshots for the life of the process.
	TTL      time.Duration
	Store    PayloadStore
	StoreKey string
	Observer Observer
	Logger   *slog.Logger
}

type cacheEntry struct {
	graph    *Graph
	loadedAt time.Time
}

// storedPayload is the envelope written to the PayloadStore.
type storedPayload struct {
	FetchedAt time.Time `json:"fetched_at"`
	Data      []byte    `json:"data"`
}

// Source fetches schemas and owns the cached snapshot of each mode. Cached
// graphs are swapped atomically; readers see either the old or the new
// graph, never a partial one. A failed fetch leaves the cache untouched.
type Source struct {
	fetcher Fetcher
	opts    SourceOptions
	logger  *slog.Logger

	introspection atomic.Pointer[cacheEntry]
	sdl           atomic.Pointer[cacheEntry]

	group singleflight.Group

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
	failed  atomic.Int64

	now func() time.Time
}

// NewSource creates a Source backed by fetcher.
func NewSource(fetcher Fetcher, opts SourceOptions) *Source {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Source) slot(mode Mode) *atomic.Pointer[cacheEntry] {
	if mode == ModeSDL {
		return &s.sdl
	}
	return &s.introspection
}

func (s *Source) expired(e *cacheEntry) bool {
	return s.opts.TTL > 0 && s.now().Sub(e.loadedAt) > s.opts.TTL
}

// Fetch returns the cached graph for mode, fetching it on first need or
// once the TTL has elapsed.
func (s *Source) Fetch(ctx context.Context, mode Mode) (*Graph, error) {
	if e := s.slot(mode).Load(); e != nil && !s.expired(e) {
		s.hits.Add(1)
		s.observeCache(mode, true)
		return e.graph, nil
	}
	s.misses.Add(1)
	s.observeCache(mode, false)
	return s.load(ctx, mode, true)
}

// Refresh fetches mode from the remote endpoint, bypassing every cache.
func (s *Source) Refresh(ctx context.Context, mode Mode) (*Graph, error) {
	return s.load(ctx, mode, false)
}

// Cached returns the last good graph for mode without any network access,
// or nil if none was ever loaded. It may be stale.
func (s *Source) Cached(mode Mode) *Graph {
	if e := s.slot(mode).Load(); e != nil {
		return e.graph
	}
	return nil
}

// load joins or starts the shared fetch for mode. The fetch runs detached
// from the caller that started it; each caller stops waiting when its own
// context ends.
func (s *Source) load(ctx context.Context, mode Mode, useStore bool) (*Graph, error) {
	key := string(mode)
	if !useStore {
		key += ":refresh"
	}
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.fetchAndSwap(shared, mode, useStore)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Graph), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// swap caches graph unless the slot already holds a snapshot fetched later,
// and returns whichever graph the slot ends up holding.
func (s *Source) swap(mode Mode, graph *Graph) *Graph {
	slot := s.slot(mode)
	next := &cacheEntry{graph: graph, loadedAt: s.now()}
	for {
		cur := slot.Load()
		if cur != nil && cur.graph.Snapshot().FetchedAt().After(graph.Snapshot().FetchedAt()) {
			s.logger.Debug("Keeping newer schema snapshot", "mode", mode)
			return cur.graph
		}
		if slot.CompareAndSwap(cur, next) {
			return graph
		}
	}
}

func (s *Source) fetchAndSwap(ctx context.Context, mode Mode, useStore bool) (*Graph, error) {
	if useStore && s.opts.Store != nil {
		if graph := s.loadFromStore(ctx, mode); graph != nil {
			return graph, nil
		}
	}

	start := s.now()
	s.fetches.Add(1)
	payload, err := s.fetchPayload(ctx, mode)
	if err == nil {
		var snap *Snapshot
		snap, err = parsePayload(mode, payload, start)
		if err == nil {
			graph := s.swap(mode, NewGraph(snap))
			s.observeFetch(mode, "remote", nil, s.now().Sub(start))
			s.logger.Info("Schema snapshot loaded",
				"mode", mode,
				"types", snap.Len(),
				"duration_ms", s.now().Sub(start).Milliseconds())
			s.saveToStore(ctx, mode, payload, start)
			return graph, nil
		}
	}

	s.failed.Add(1)
	s.observeFetch(mode, "remote", err, s.now().Sub(start))
	s.logger.Warn("Schema fetch failed", "mode", mode, "error", err)
	return nil, err
}

func (s *Source) fetchPayload(ctx context.Context, mode Mode) ([]byte, error) {
	switch mode {
	case ModeSDL:
		sdl, err := s.fetcher.FetchSDL(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(sdl), nil
	case ModeIntrospection:
		resp, err := s.fetcher.Do(ctx, "introspection", IntrospectionQuery, nil)
		if err != nil {
			return nil, err
		}
		if resp.HasErrors() {
			return nil, graphql.NewSchemaError("introspection query rejected: "+resp.ErrorMessage(), nil)
		}
		return resp.Data, nil
	}
	return nil, graphql.NewInvalidArgument("mode", fmt.Sprintf("unknown schema mode %q", mode))
}

func parsePayload(mode Mode, payload []byte, fetchedAt time.Time) (*Snapshot, error) {
	if mode == ModeSDL {
		return ParseSDL(string(payload), fetchedAt)
	}
	return ParseIntrospection(payload, fetchedAt)
}

func (s *Source) storeKey(mode Mode) string {
	return fmt.Sprintf("schema:%s:%s", s.opts.StoreKey, mode)
}

func (s *Source) loadFromStore(ctx context.Context, mode Mode) *Graph {
	start := s.now()
	raw, err := s.opts.Store.Load(ctx, s.storeKey(mode))
	if err != nil {
		s.logger.Warn("Schema payload store read failed", "mode", mode, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}

	var stored storedPayload
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.logger.Warn("Discarding unreadable stored schema payload", "mode", mode, "error", err)
		return nil
	}
	if cur := s.slot(mode).Load(); cur != nil && !stored.FetchedAt.After(cur.graph.Snapshot().FetchedAt()) {
		return nil
	}
	snap, err := parsePayload(mode, stored.Data, stored.FetchedAt)
	if err != nil {
		s.logger.Warn("Discarding invalid stored schema payload", "mode", mode, "error", err)
		return nil
	}

	graph := s.swap(mode, NewGraph(snap))
	s.observeFetch(mode, "store", nil, s.now().Sub(start))
	s.logger.Info("Schema snapshot loaded from shared store",
		"mode", mode,
		"types", snap.Len(),
		"fetched_at", stored.FetchedAt.Format(time.RFC3339))
	return graph
}

func (s *Source) saveToStore(ctx context.Context, mode Mode, payload []byte, fetchedAt time.Time) {
	if s.opts.Store == nil {
		return
	}
	raw, err := json.Marshal(storedPayload{FetchedAt: fetchedAt.UTC(), Data: payload})
	if err != nil {
		return
	}
	if err := s.opts.Store.Save(ctx, s.storeKey(mode), raw); err != nil {
		s.logger.Warn("Schema payload store write failed", "mode", mode, "error", err)
	}
}

func (s *Source) observeCache(mode Mode, hit bool) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveSchemaCache(string(mode), hit)
	}
}

func (s *Source) observeFetch(mode Mode, origin string, err error, d time.Duration) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveSchemaFetch(string(mode), origin, err, d)
	}
}

// GetStats returns cache counters.
func (s *Source) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"hits":          s.hits.Load(),
		"misses":        s.misses.Load(),
		"fetches":       s.fetches.Load(),
		"failed":        s.failed.Load(),
		"ttl":           s.opts.TTL.String(),
		"shared_store":  s.opts.Store != nil,
		"introspection": false,
		"sdl":           false,
	}
	if g := s.Cached(ModeIntrospection); g != nil {
		stats["introspection"] = true
	}
	if g := s.Cached(ModeSDL); g != nil {
		stats["sdl"] = true
	}
	return stats
}
