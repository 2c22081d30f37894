package collect

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/state"
	"github.com/R3E-Network/threatwatch/internal/periscope"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(fc FetchContext) (FetchResult, error)
}

func (f *fakeFetcher) Fetch(fc FetchContext) (FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(fc)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestEngine(t *testing.T, src source.Source, fetcher Fetcher, pipeline PipelineFunc) *Engine {
	t.Helper()
	reg, err := source.NewRegistry([]source.Source{src})
	require.NoError(t, err)

	ps, err := state.NewPersistentState(state.Config{Backend: state.NewMemoryBackend()})
	require.NoError(t, err)
	watermarks := NewWatermarkStore(ps)

	cfg := DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.DrainGrace = 2 * time.Second
	cfg.Retry.MaxAttempts = 1

	return New(reg, map[source.Kind]Fetcher{src.Kind: fetcher}, watermarks, pipeline, nil, nil, nil, cfg)
}

func TestEngine_DispatchesDueSourceAndRunsPipeline(t *testing.T) {
	var received []intel.RawItem
	var mu sync.Mutex

	fetcher := &fakeFetcher{fn: func(fc FetchContext) (FetchResult, error) {
		return FetchResult{
			Items:   []intel.RawItem{{SourceID: fc.Source.ID, Title: "hit"}},
			Outcome: OK(),
		}, nil
	}}

	pipeline := func(ctx context.Context, item intel.RawItem) error {
		mu.Lock()
		received = append(received, item)
		mu.Unlock()
		return nil
	}

	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: "https://example.com/feed", CadenceSeconds: 30}
	engine := newTestEngine(t, src, fetcher, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, engine.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "hit", received[0].Title)
}

func TestEngine_CooldownSkipsFatalSource(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(fc FetchContext) (FetchResult, error) {
		return FetchResult{Outcome: Fatal("always broken")}, nil
	}}

	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: "https://example.com/feed", CadenceSeconds: 30}
	engine := newTestEngine(t, src, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	require.Eventually(t, func() bool {
		return fetcher.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Give the engine a couple more ticks; the cooldown window should
	// prevent a second call from landing immediately after the first.
	time.Sleep(100 * time.Millisecond)
	callsAfterCooldownWindow := fetcher.callCount()

	cancel()
	require.NoError(t, engine.Stop(context.Background()))

	assert.LessOrEqual(t, callsAfterCooldownWindow, 2)
}

func TestEngine_TriggerForcesImmediateFetch(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(fc FetchContext) (FetchResult, error) {
		return FetchResult{Outcome: OK()}, nil
	}}

	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: "https://example.com/feed", CadenceSeconds: 3600}
	engine := newTestEngine(t, src, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	defer func() {
		cancel()
		_ = engine.Stop(context.Background())
	}()

	engine.Trigger("s1")

	require.Eventually(t, func() bool {
		return fetcher.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_StoreOutageBuffersItemsAndHoldsWatermark(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(fc FetchContext) (FetchResult, error) {
		return FetchResult{
			Items:   []intel.RawItem{{SourceID: fc.Source.ID, ExternalID: "a", Title: "one"}},
			Outcome: OK(),
			Cursor:  "cursor-a",
		}, nil
	}}

	storeDown := true
	var mu sync.Mutex
	var delivered []intel.RawItem
	pipeline := func(ctx context.Context, item intel.RawItem) error {
		mu.Lock()
		defer mu.Unlock()
		if storeDown {
			return fmt.Errorf("ingest: %w", periscope.ErrStoreUnavailable)
		}
		delivered = append(delivered, item)
		return nil
	}

	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: "https://example.com/feed", CadenceSeconds: 3600}
	engine := newTestEngine(t, src, fetcher, pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	defer func() {
		cancel()
		_ = engine.Stop(context.Background())
	}()

	engine.Trigger("s1")

	// The rejected item lands in the buffer and the cursor does not
	// advance past the unflushed write.
	require.Eventually(t, func() bool {
		return engine.Stats().ItemsBuffered == 1
	}, 2*time.Second, 10*time.Millisecond)

	wm, err := engine.watermarks.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, wm.Cursor)

	// Once the store recovers, the next tick replays the buffered write.
	mu.Lock()
	storeDown = false
	mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(0), engine.Stats().ItemsBuffered)
	assert.Equal(t, "one", delivered[0].Title)
}

func TestEngine_FullBufferPausesScheduling(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(fc FetchContext) (FetchResult, error) {
		return FetchResult{
			Items:   []intel.RawItem{{SourceID: fc.Source.ID, Title: "x"}},
			Outcome: OK(),
		}, nil
	}}

	pipeline := func(ctx context.Context, item intel.RawItem) error {
		return fmt.Errorf("ingest: %w", periscope.ErrStoreUnavailable)
	}

	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: "https://example.com/feed", CadenceSeconds: 30}
	reg, err := source.NewRegistry([]source.Source{src})
	require.NoError(t, err)
	ps, err := state.NewPersistentState(state.Config{Backend: state.NewMemoryBackend()})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.TickInterval = 20 * time.Millisecond
	cfg.DrainGrace = 2 * time.Second
	cfg.Retry.MaxAttempts = 1
	cfg.StoreBufferCap = 1

	engine := New(reg, map[source.Kind]Fetcher{src.Kind: fetcher}, NewWatermarkStore(ps), pipeline, nil, nil, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	defer func() {
		cancel()
		_ = engine.Stop(context.Background())
	}()

	require.Eventually(t, func() bool {
		return engine.Stats().ItemsBuffered == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Let any dispatch already in flight finish, then make the source
	// look overdue: a tick would schedule it were the buffer not full.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.watermarks.Put(context.Background(), "s1", Watermark{
		LastFetchedAt: time.Now().Add(-time.Hour),
	}))

	calls := fetcher.callCount()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}
