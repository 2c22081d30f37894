package secretref

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_EmptyRefReturnsEmpty(t *testing.T) {
	r := NewResolver(0, EnvProvider{})
	val, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "", val)
}

func TestEnvProvider_ResolvesFromEnvironment(t *testing.T) {
	t.Setenv("TEST_SOURCE_TOKEN", "super-secret")
	r := NewResolver(0, EnvProvider{})

	val, err := r.Resolve("env://TEST_SOURCE_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "super-secret", val)
}

func TestEnvProvider_MissingVariableErrors(t *testing.T) {
	r := NewResolver(0, EnvProvider{})
	_, err := r.Resolve("env://DOES_NOT_EXIST_TW")
	assert.Error(t, err)
}

func TestResolve_UnknownSchemeErrors(t *testing.T) {
	r := NewResolver(0, EnvProvider{})
	_, err := r.Resolve("azkv://vault/secret")
	assert.Error(t, err)
}

type countingProvider struct {
	scheme string
	calls  int
	value  string
}

func (c *countingProvider) Scheme() string { return c.scheme }

func (c *countingProvider) Resolve(_ context.Context, _ *url.URL) (string, error) {
	c.calls++
	return c.value, nil
}

func TestResolve_CachesWithinTTL(t *testing.T) {
	cp := &countingProvider{scheme: "test", value: "v1"}
	r := NewResolver(50*time.Millisecond, cp)

	v1, err := r.Resolve("test://a")
	require.NoError(t, err)
	assert.Equal(t, "v1", v1)

	v2, err := r.Resolve("test://a")
	require.NoError(t, err)
	assert.Equal(t, "v1", v2)
	assert.Equal(t, 1, cp.calls, "second call within TTL should hit cache")

	time.Sleep(60 * time.Millisecond)
	_, err = r.Resolve("test://a")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.calls, "call after TTL expiry should re-resolve")
}
