package periscope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/threatwatch/domain/intel"
)

// itemKeyPrefix namespaces item hash keys within the Redis keyspace so
// Periscope can share a database with other callers.
const itemKeyPrefix = "threatwatch:item:"

// RedisBackend is the L1 (hot) Backend, holding recently-ingested items
// for up to TTLL1.
type RedisBackend struct {
	client *redis.Client
	ttl    func(item *intel.Item) (ttl int64, noExpiry bool)
}

// NewRedisBackend wraps an existing client. The caller owns the client's
// lifecycle (Close).
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		ttl: func(item *intel.Item) (int64, bool) {
			d, noExpiry := TTLFor(item.Tier, item.Validated)
			return int64(d.Seconds()), noExpiry
		},
	}
}

func itemKey(itemID string) string {
	return itemKeyPrefix + itemID
}

func (b *RedisBackend) Get(ctx context.Context, itemID string) (*intel.Item, bool, error) {
	raw, err := b.client.Get(ctx, itemKey(itemID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis backend: get: %w", err)
	}
	var item intel.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, fmt.Errorf("redis backend: decode: %w", err)
	}
	return &item, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, item *intel.Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redis backend: encode: %w", err)
	}
	seconds, noExpiry := b.ttl(item)
	expiration := redis.KeepTTL
	if !noExpiry {
		expiration = time.Duration(seconds) * time.Second
	}
	if err := b.client.Set(ctx, itemKey(item.ItemID), raw, expiration).Err(); err != nil {
		return fmt.Errorf("redis backend: set: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, itemID string) error {
	if err := b.client.Del(ctx, itemKey(itemID)).Err(); err != nil {
		return fmt.Errorf("redis backend: del: %w", err)
	}
	return nil
}

// Query scans the hot keyspace and filters in Go. L1 residency is bounded
// by TTLL1, so this keyspace stays small relative to L2/L3.
func (b *RedisBackend) Query(ctx context.Context, filter Filter) ([]intel.Item, int, error) {
	var items []intel.Item
	iter := b.client.Scan(ctx, 0, itemKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("redis backend: scan get: %w", err)
		}
		var item intel.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, 0, fmt.Errorf("redis backend: scan decode: %w", err)
		}
		if matchesFilter(&item, filter) {
			items = append(items, item)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("redis backend: scan: %w", err)
	}
	return items, len(items), nil
}

func matchesFilter(item *intel.Item, filter Filter) bool {
	if filter.Severity != "" && item.Severity != filter.Severity {
		return false
	}
	if filter.MinScore != 0 && item.Score < filter.MinScore {
		return false
	}
	if filter.MaxScore != 0 && item.Score > filter.MaxScore {
		return false
	}
	if filter.Category != "" && item.Category != filter.Category {
		return false
	}
	if filter.SourceID != "" {
		if _, ok := item.HasSource(filter.SourceID); !ok {
			return false
		}
	}
	if filter.Tag != "" && !containsString(item.IndustryTags, filter.Tag) {
		return false
	}
	for _, tag := range filter.IndustryTags {
		if !containsString(item.IndustryTags, tag) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

