package state

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBackend is a PersistenceBackend over a shared Redis instance,
// namespacing every key under prefix so it can coexist with other callers
// of the same database. The main tenant is the Collection Engine's
// per-source watermark set.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client; the caller owns the client's
// lifecycle. prefix namespaces every key this backend touches.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

func (b *RedisBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis state backend: save: %w", err)
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis state backend: load: %w", err)
	}
	return data, nil
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("redis state backend: delete: %w", err)
	}
	return nil
}

func (b *RedisBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(b.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis state backend: list: %w", err)
	}
	return keys, nil
}

func (b *RedisBackend) Close(ctx context.Context) error {
	return nil
}
