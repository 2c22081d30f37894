// Package state persists small opaque blobs of process state — the
// collection engine's per-source watermarks are the main tenant — behind
// a pluggable backend, so the same bookkeeping survives restarts when a
// Redis instance is available and degrades to process memory when not.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotFound is returned by Load when the key has never been saved.
var ErrNotFound = errors.New("key not found")

// PersistenceBackend stores namespaced byte blobs.
type PersistenceBackend interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close(ctx context.Context) error
}

// MemoryBackend is the in-process fallback backend. State stored here
// dies with the process, which is acceptable for tests and for
// deployments that tolerate a full re-fetch after restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}

// Config wires a PersistentState.
type Config struct {
	Backend PersistenceBackend
	// KeyPrefix namespaces every key so multiple owners can share one
	// backend (e.g. "collect:" for watermarks).
	KeyPrefix string
	// MaxSize bounds a single saved blob; 0 means the 1 MiB default.
	// Watermarks are tens of bytes, so hitting this means a bug upstream.
	MaxSize int
}

const defaultMaxSize = 1 << 20

// PersistentState is a namespaced, size-bounded view over a backend.
type PersistentState struct {
	backend   PersistenceBackend
	keyPrefix string
	maxSize   int
}

// NewPersistentState validates cfg and returns the wrapper.
func NewPersistentState(cfg Config) (*PersistentState, error) {
	if cfg.Backend == nil {
		return nil, errors.New("state: backend is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	return &PersistentState{
		backend:   cfg.Backend,
		keyPrefix: cfg.KeyPrefix,
		maxSize:   cfg.MaxSize,
	}, nil
}

// Save stores data under key, rejecting blobs over the configured bound.
func (s *PersistentState) Save(ctx context.Context, key string, data []byte) error {
	if len(data) > s.maxSize {
		return fmt.Errorf("state: blob of %d bytes exceeds bound %d", len(data), s.maxSize)
	}
	if err := s.backend.Save(ctx, s.keyPrefix+key, data); err != nil {
		return fmt.Errorf("state: save %s: %w", key, err)
	}
	return nil
}

// Load returns the blob stored under key, or ErrNotFound.
func (s *PersistentState) Load(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Load(ctx, s.keyPrefix+key)
}

// Delete removes key; deleting an absent key is not an error.
func (s *PersistentState) Delete(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, s.keyPrefix+key)
}

// List returns the stored keys under prefix, with the namespace stripped.
func (s *PersistentState) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.List(ctx, s.keyPrefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, s.keyPrefix))
	}
	return out, nil
}

// Close releases the backend.
func (s *PersistentState) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}
