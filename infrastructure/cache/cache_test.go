package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsSetValue(t *testing.T) {
	c := NewTTLCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "azkv://vault/feed-token", "resolved-secret")

	v, ok := c.Get(ctx, "azkv://vault/feed-token")
	assert.True(t, ok)
	assert.Equal(t, "resolved-secret", v)
}

func TestGetMissingKey(t *testing.T) {
	c := NewTTLCache(time.Minute)
	defer c.Close()

	_, ok := c.Get(context.Background(), "never-set")
	assert.False(t, ok)
}

func TestExpiredEntryIsDropped(t *testing.T) {
	c := NewTTLCache(10 * time.Millisecond)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestDeleteRemovesImmediately(t *testing.T) {
	c := NewTTLCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", "v")
	c.Delete(ctx, "k")

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestSetOverwritesAndRefreshes(t *testing.T) {
	c := NewTTLCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "k", "old")
	c.Set(ctx, "k", "new")

	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
	assert.Equal(t, 1, c.Len())
}
