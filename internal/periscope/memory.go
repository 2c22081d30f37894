package periscope

import (
	"context"
	"sync"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// MemoryBackend is an in-process Backend used when no PostgreSQL DSN is
// configured. It implements the
// full Backend surface, including FingerprintSearcher, so the Deduper's
// cold-fingerprint lookup works the same in dev mode as it does against
// Postgres.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]intel.Item
}

// NewMemoryBackend builds an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]intel.Item)}
}

func (b *MemoryBackend) Get(_ context.Context, itemID string) (*intel.Item, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.items[itemID]
	if !ok {
		return nil, false, nil
	}
	cp := it
	return &cp, true, nil
}

func (b *MemoryBackend) Put(_ context.Context, item *intel.Item) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[item.ItemID] = *item
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, itemID)
	return nil
}

func (b *MemoryBackend) Query(_ context.Context, filter Filter) ([]intel.Item, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var items []intel.Item
	for _, it := range b.items {
		if matchesFilter(&it, filter) {
			items = append(items, it)
		}
	}
	return items, len(items), nil
}

// FindByFingerprintNear satisfies FingerprintSearcher the same way the
// Postgres backend does: exact match first, then a bounded linear scan for
// a near match within maxDistance.
func (b *MemoryBackend) FindByFingerprintNear(_ context.Context, fingerprint uint64, maxDistance int) (*intel.Item, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, it := range b.items {
		if it.Fingerprint == fingerprint {
			cp := it
			return &cp, nil
		}
	}
	for _, it := range b.items {
		if intel.HammingDistance64(it.Fingerprint, fingerprint) <= maxDistance {
			cp := it
			return &cp, nil
		}
	}
	return nil, nil
}
