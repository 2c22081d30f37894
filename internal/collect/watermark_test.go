package collect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/infrastructure/state"
)

func newTestWatermarkStore(t *testing.T) *WatermarkStore {
	t.Helper()
	ps, err := state.NewPersistentState(state.Config{Backend: state.NewMemoryBackend()})
	require.NoError(t, err)
	return NewWatermarkStore(ps)
}

func TestWatermarkStore_GetMissingReturnsZeroValue(t *testing.T) {
	store := newTestWatermarkStore(t)
	w, err := store.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, Watermark{}, w)
}

func TestWatermarkStore_RoundTrip(t *testing.T) {
	store := newTestWatermarkStore(t)
	w := Watermark{ETag: `"x"`, Cursor: "abc"}
	require.NoError(t, store.Put(context.Background(), "s1", w))

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestWatermarkStore_RecordOutcome_OKResetsFailures(t *testing.T) {
	store := newTestWatermarkStore(t)
	require.NoError(t, store.Put(context.Background(), "s1", Watermark{ConsecutiveFailures: 3}))

	now := time.Now()
	err := store.RecordOutcome(context.Background(), "s1", FetchResult{Outcome: OK(), ETag: `"new"`}, now)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures)
	assert.Equal(t, `"new"`, got.ETag)
}

func TestWatermarkStore_RecordOutcome_FatalIncrementsFailures(t *testing.T) {
	store := newTestWatermarkStore(t)

	now := time.Now()
	err := store.RecordOutcome(context.Background(), "s1", FetchResult{Outcome: Fatal("boom")}, now)
	require.NoError(t, err)
	err = store.RecordOutcome(context.Background(), "s1", FetchResult{Outcome: Fatal("boom")}, now)
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.True(t, got.CooldownUntil().After(now))
}
