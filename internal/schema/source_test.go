package schema_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSource(t *testing.T, fake *testutil.FakeOpenCTI, opts schema.SourceOptions) *schema.Source {
	t.Helper()
	client, err := graphql.NewClient(graphql.ClientConfig{BaseURL: fake.URL(), Token: "token"}, testLogger())
	require.NoError(t, err)
	opts.Logger = testLogger()
	return schema.NewSource(client, opts)
}

type memoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: make(map[string][]byte)}
}

func (m *memoryStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *memoryStore) Save(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = payload
	m.saves++
	return nil
}

// gatedFetcher serves successive SDL payloads. A call with a gate blocks
// until the gate is closed or its context ends.
type gatedFetcher struct {
	payloads []string
	gates    []chan struct{}
	entered  chan int
	calls    atomic.Int32
}

func newGatedFetcher(payloads []string, gates ...chan struct{}) *gatedFetcher {
	return &gatedFetcher{payloads: payloads, gates: gates, entered: make(chan int, 8)}
}

func (f *gatedFetcher) Do(context.Context, string, string, map[string]interface{}) (*graphql.Response, error) {
	return nil, errors.New("introspection not served")
}

func (f *gatedFetcher) FetchSDL(ctx context.Context) (string, error) {
	n := int(f.calls.Add(1)) - 1
	f.entered <- n
	if n < len(f.gates) && f.gates[n] != nil {
		select {
		case <-f.gates[n]:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.payloads[min(n, len(f.payloads)-1)], nil
}

type recordingObserver struct {
	mu      sync.Mutex
	hits    int
	misses  int
	origins []string
	errs    int
}

func (o *recordingObserver) ObserveSchemaCache(_ string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func (o *recordingObserver) ObserveSchemaFetch(_, origin string, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.origins = append(o.origins, origin)
	if err != nil {
		o.errs++
	}
}

func TestSource_FetchCaches(t *testing.T) {
	fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	obs := &recordingObserver{}
	src := newSource(t, fake, schema.SourceOptions{Observer: obs})
	ctx := context.Background()

	assert.Nil(t, src.Cached(schema.ModeIntrospection))

	g1, err := src.Fetch(ctx, schema.ModeIntrospection)
	require.NoError(t, err)
	g2, err := src.Fetch(ctx, schema.ModeIntrospection)
	require.NoError(t, err)

	assert.Same(t, g1, g2)
	assert.Same(t, g1, src.Cached(schema.ModeIntrospection))
	assert.Equal(t, int64(1), fake.IntrospectionCalls.Load())
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, []string{"remote"}, obs.origins)

	t.Run("modes are cached independently", func(t *testing.T) {
		assert.Nil(t, src.Cached(schema.ModeSDL))
		g, err := src.Fetch(ctx, schema.ModeSDL)
		require.NoError(t, err)
		assert.Equal(t, schema.ModeSDL, g.Snapshot().Mode())
		assert.Equal(t, int64(1), fake.SchemaCalls.Load())
		assert.Same(t, g1, src.Cached(schema.ModeIntrospection))
	})

	stats := src.GetStats()
	assert.Equal(t, true, stats["introspection"])
	assert.Equal(t, true, stats["sdl"])
	assert.Equal(t, int64(2), stats["fetches"])
}

func TestSource_ConcurrentFetchIsShared(t *testing.T) {
	fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	src := newSource(t, fake, schema.SourceOptions{})

	var wg sync.WaitGroup
	graphs := make([]*schema.Graph, 20)
	for i := range graphs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := src.Fetch(context.Background(), schema.ModeSDL)
			assert.NoError(t, err)
			graphs[i] = g
		}(i)
	}
	wg.Wait()

	for _, g := range graphs {
		assert.Same(t, src.Cached(schema.ModeSDL), g)
	}
	assert.LessOrEqual(t, fake.SchemaCalls.Load(), int64(len(graphs)))
	assert.GreaterOrEqual(t, fake.SchemaCalls.Load(), int64(1))
}

func TestSource_CancelledCallerLeavesSharedFetchRunning(t *testing.T) {
	gate := make(chan struct{})
	fetcher := newGatedFetcher([]string{testutil.CTISchema}, gate)
	src := schema.NewSource(fetcher, schema.SourceOptions{Logger: testLogger()})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := src.Fetch(ctxA, schema.ModeSDL)
		errA <- err
	}()
	<-fetcher.entered

	type result struct {
		graph *schema.Graph
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		g, err := src.Fetch(context.Background(), schema.ModeSDL)
		resB <- result{g, err}
	}()
	time.Sleep(50 * time.Millisecond)

	t.Run("cancelled caller returns its own error", func(t *testing.T) {
		cancelA()
		select {
		case err := <-errA:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("cancelled caller still waiting")
		}
	})

	t.Run("joined caller gets the snapshot", func(t *testing.T) {
		close(gate)
		res := <-resB
		require.NoError(t, res.err)
		assert.Contains(t, res.graph.ListTypeNames(), "AttackPattern")
		assert.Same(t, src.Cached(schema.ModeSDL), res.graph)
		assert.Equal(t, int32(1), fetcher.calls.Load())
	})
}

func TestSource_OlderFetchKeepsNewerSnapshot(t *testing.T) {
	gate := make(chan struct{})
	fetcher := newGatedFetcher([]string{testutil.MinimalSchema, testutil.CTISchema}, gate)
	src := schema.NewSource(fetcher, schema.SourceOptions{Logger: testLogger()})
	ctx := context.Background()

	slow := make(chan *schema.Graph, 1)
	go func() {
		g, err := src.Fetch(ctx, schema.ModeSDL)
		assert.NoError(t, err)
		slow <- g
	}()
	<-fetcher.entered
	time.Sleep(5 * time.Millisecond)

	fresh, err := src.Refresh(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.Contains(t, fresh.ListTypeNames(), "AttackPattern")

	close(gate)
	late := <-slow
	assert.Same(t, fresh, late)
	assert.Same(t, fresh, src.Cached(schema.ModeSDL))
	assert.Equal(t, int32(2), fetcher.calls.Load())
}

func TestSource_RefreshReplacesSnapshot(t *testing.T) {
	fake := testutil.NewFakeOpenCTI(t, testutil.MinimalSchema)
	src := newSource(t, fake, schema.SourceOptions{})
	ctx := context.Background()

	before, err := src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.NotContains(t, before.ListTypeNames(), "AttackPattern")

	fake.SetSDL(testutil.CTISchema)
	after, err := src.Refresh(ctx, schema.ModeSDL)
	require.NoError(t, err)

	assert.NotSame(t, before, after)
	assert.Contains(t, after.ListTypeNames(), "AttackPattern")
	assert.Same(t, after, src.Cached(schema.ModeSDL))

	// The old graph keeps answering from its own snapshot.
	assert.NotContains(t, before.ListTypeNames(), "AttackPattern")
}

func TestSource_FailureKeepsLastGood(t *testing.T) {
	fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	obs := &recordingObserver{}
	src := newSource(t, fake, schema.SourceOptions{Observer: obs})
	ctx := context.Background()

	good, err := src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)

	t.Run("remote failure", func(t *testing.T) {
		fake.SetSchemaStatus(http.StatusNotFound)
		defer fake.SetSchemaStatus(0)

		_, err := src.Refresh(ctx, schema.ModeSDL)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graphql.ErrRemote))
		assert.Same(t, good, src.Cached(schema.ModeSDL))
	})

	t.Run("unparseable schema", func(t *testing.T) {
		fake.SetSDL("type Broken {")
		defer fake.SetSDL(testutil.CTISchema)

		_, err := src.Refresh(ctx, schema.ModeSDL)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graphql.ErrSchema))
		assert.Same(t, good, src.Cached(schema.ModeSDL))
	})

	assert.Equal(t, 2, obs.errs)
	assert.Equal(t, int64(2), src.GetStats()["failed"])
}

func TestSource_IntrospectionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled introspection", func(t *testing.T) {
		fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		fake.IntrospectionBody = `{"errors":[{"message":"GraphQL introspection is not allowed"}]}`
		src := newSource(t, fake, schema.SourceOptions{})

		_, err := src.Fetch(ctx, schema.ModeIntrospection)
		require.Error(t, err)
		assert.True(t, errors.Is(err, graphql.ErrSchema))
		assert.Contains(t, err.Error(), "introspection is not allowed")
		assert.Nil(t, src.Cached(schema.ModeIntrospection))
	})

	t.Run("empty types list", func(t *testing.T) {
		fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		fake.IntrospectionBody = `{"data":{"__schema":{"queryType":{"name":"Query"},"types":[]}}}`
		src := newSource(t, fake, schema.SourceOptions{})

		_, err := src.Fetch(ctx, schema.ModeIntrospection)
		assert.True(t, errors.Is(err, graphql.ErrSchema))
	})

	t.Run("unknown mode", func(t *testing.T) {
		fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		src := newSource(t, fake, schema.SourceOptions{})

		_, err := src.Fetch(ctx, schema.Mode("graphiql"))
		assert.True(t, errors.Is(err, graphql.ErrInvalidArgument))
	})
}

func TestSource_TTL(t *testing.T) {
	fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	src := newSource(t, fake, schema.SourceOptions{TTL: 200 * time.Millisecond})
	ctx := context.Background()

	_, err := src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	_, err = src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.SchemaCalls.Load())

	time.Sleep(300 * time.Millisecond)
	_, err = src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.SchemaCalls.Load())
}

func TestSource_ExpiredSnapshotSkipsStaleStoreCopy(t *testing.T) {
	store := newMemoryStore()
	fake := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	src := newSource(t, fake, schema.SourceOptions{TTL: 100 * time.Millisecond, Store: store, StoreKey: "cti"})
	ctx := context.Background()

	first, err := src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	second, err := src.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.SchemaCalls.Load())
	assert.True(t, second.Snapshot().FetchedAt().After(first.Snapshot().FetchedAt()))
	assert.Equal(t, 2, store.saves)
}

func TestSource_SharedStore(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	first := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
	src1 := newSource(t, first, schema.SourceOptions{Store: store, StoreKey: "cti"})
	g1, err := src1.Fetch(ctx, schema.ModeSDL)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.Contains(t, store.items, "schema:cti:sdl")

	t.Run("second process loads from the store", func(t *testing.T) {
		second := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		obs := &recordingObserver{}
		src2 := newSource(t, second, schema.SourceOptions{Store: store, StoreKey: "cti", Observer: obs})

		g2, err := src2.Fetch(ctx, schema.ModeSDL)
		require.NoError(t, err)
		assert.Zero(t, second.SchemaCalls.Load())
		assert.Equal(t, []string{"store"}, obs.origins)
		assert.Equal(t, g1.Mapping().FullMapping(), g2.Mapping().FullMapping())
		assert.Equal(t, g1.Snapshot().FetchedAt().UTC(), g2.Snapshot().FetchedAt().UTC())
	})

	t.Run("refresh bypasses the store", func(t *testing.T) {
		third := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		src3 := newSource(t, third, schema.SourceOptions{Store: store, StoreKey: "cti"})

		_, err := src3.Refresh(ctx, schema.ModeSDL)
		require.NoError(t, err)
		assert.Equal(t, int64(1), third.SchemaCalls.Load())
		assert.Equal(t, 2, store.saves)
	})

	t.Run("corrupt entry falls back to remote", func(t *testing.T) {
		store.items["schema:cti:introspection"] = []byte("not json")
		fourth := testutil.NewFakeOpenCTI(t, testutil.CTISchema)
		src4 := newSource(t, fourth, schema.SourceOptions{Store: store, StoreKey: "cti"})

		_, err := src4.Fetch(ctx, schema.ModeIntrospection)
		require.NoError(t, err)
		assert.Equal(t, int64(1), fourth.IntrospectionCalls.Load())
	})
}
