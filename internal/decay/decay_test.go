package decay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/internal/periscope"
)

// memBackend is a minimal in-memory periscope.Backend double, mirroring the
// one periscope's own tests use.
type memBackend struct {
	mu    sync.Mutex
	items map[string]intel.Item
}

func newMemBackend() *memBackend { return &memBackend{items: make(map[string]intel.Item)} }

func (b *memBackend) Get(_ context.Context, itemID string) (*intel.Item, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[itemID]
	if !ok {
		return nil, false, nil
	}
	cp := it
	return &cp, true, nil
}

func (b *memBackend) Put(_ context.Context, item *intel.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[item.ItemID] = *item
	return nil
}

func (b *memBackend) Delete(_ context.Context, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, itemID)
	return nil
}

func (b *memBackend) Query(_ context.Context, _ periscope.Filter) ([]intel.Item, int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]intel.Item, 0, len(b.items))
	for _, it := range b.items {
		out = append(out, it)
	}
	return out, len(out), nil
}

func newTestPeriscope() (*periscope.Periscope, *memBackend, *memBackend, *memBackend) {
	l1, l2, l3 := newMemBackend(), newMemBackend(), newMemBackend()
	return periscope.New(l1, l2, l3, 0), l1, l2, l3
}

func TestDecayConfidence_FloorsAtMinimum(t *testing.T) {
	got := decayConfidence(0.31, RateL3, 400)
	assert.Equal(t, MinConfidence, got)
}

func TestDecayConfidence_DecaysGradually(t *testing.T) {
	got := decayConfidence(1.0, RateL2, 10)
	assert.InDelta(t, 0.817, got, 0.01)
	assert.Greater(t, got, MinConfidence)
}

func TestWorker_Run_ValidatedItemsKeepConfidenceButMoveToL3(t *testing.T) {
	store, _, l2, l3 := newTestPeriscope()
	validated := intel.Item{
		ItemID: "v1", Tier: intel.TierL2, Validated: true, Confidence: 0.9,
		LastSeen: time.Now().Add(-100 * 24 * time.Hour), TierEnteredAt: time.Now().Add(-100 * 24 * time.Hour),
	}
	require.NoError(t, l2.Put(context.Background(), &validated))

	w := New(store, nil, nil, Config{})
	require.NoError(t, w.Run(context.Background()))

	got, ok, err := l3.Get(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, ok, "validated item should be promoted to L3 before L2 expiry")
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, intel.TierL3, got.Tier)

	_, stillInL2, err := l2.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.False(t, stillInL2)
}

func TestWorker_Run_ExpiresAgedL3Items(t *testing.T) {
	store, _, _, l3 := newTestPeriscope()
	aged := intel.Item{
		ItemID: "e1", Tier: intel.TierL3, Confidence: 0.5,
		LastSeen:      time.Now(),
		TierEnteredAt: time.Now().Add(-100 * 24 * time.Hour),
	}
	require.NoError(t, l3.Put(context.Background(), &aged))

	w := New(store, nil, nil, Config{})
	require.NoError(t, w.Run(context.Background()))

	_, ok, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, ok, "non-validated L3 item past TTL should be dropped")
}

func TestWorker_Run_ExpiryLeavesValidatedItems(t *testing.T) {
	store, _, _, l3 := newTestPeriscope()
	validated := intel.Item{
		ItemID: "e2", Tier: intel.TierL3, Validated: true, Confidence: 0.7,
		LastSeen:      time.Now(),
		TierEnteredAt: time.Now().Add(-400 * 24 * time.Hour),
	}
	require.NoError(t, l3.Put(context.Background(), &validated))

	w := New(store, nil, nil, Config{})
	require.NoError(t, w.Run(context.Background()))

	got, ok, err := store.Get(context.Background(), "e2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.7, got.Confidence)
}

func TestWorker_Run_DecaysL2AndPromotesWhenEligible(t *testing.T) {
	store, _, l2, _ := newTestPeriscope()
	old := time.Now().Add(-30 * 24 * time.Hour)
	it := intel.Item{
		ItemID: "i1", Tier: intel.TierL2, Confidence: 0.8, Category: intel.CategoryMalware,
		Sources:       []intel.SourceObservation{{SourceID: "s1", Credibility: 0.9}},
		LastSeen:      old,
		TierEnteredAt: old,
	}
	require.NoError(t, l2.Put(context.Background(), &it))

	w := New(store, nil, nil, Config{})
	require.NoError(t, w.Run(context.Background()))

	got, ok, err := store.Get(context.Background(), "i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Less(t, got.Confidence, 0.8)
	assert.Equal(t, intel.TierL3, got.Tier)
}

func TestWorker_Run_NoOpWhenNotYetDue(t *testing.T) {
	store, _, l2, _ := newTestPeriscope()
	it := intel.Item{
		ItemID: "i2", Tier: intel.TierL2, Confidence: 0.8,
		LastSeen:      time.Now(),
		TierEnteredAt: time.Now(),
	}
	require.NoError(t, l2.Put(context.Background(), &it))

	w := New(store, nil, nil, Config{})
	require.NoError(t, w.Run(context.Background()))

	got, ok, err := store.Get(context.Background(), "i2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.8, got.Confidence)
}
