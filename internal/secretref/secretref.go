// Package secretref resolves a source's auth_ref to its
// plaintext credential value. auth_ref is an opaque URI whose scheme
// selects the backend: env:// for local/dev environment variables, azkv://
// for Azure Key Vault secrets. cmd/threatwatchd uses one Resolver both for
// per-source credentials and for the store credential reference.
package secretref

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/threatwatch/infrastructure/cache"
)

// Provider resolves one auth_ref scheme to a plaintext value.
type Provider interface {
	// Scheme is the URI scheme this provider handles, e.g. "env" or "azkv".
	Scheme() string
	// Resolve returns the plaintext secret for the given ref. ref is passed
	// with its scheme intact so providers can be shared across schemes if
	// ever needed; most implementations only look at ref.Opaque/Host/Path.
	Resolve(ctx context.Context, ref *url.URL) (string, error)
}

// Resolver dispatches auth_ref values to the Provider registered for their
// scheme.
type Resolver struct {
	mu        sync.RWMutex
	providers map[string]Provider

	// cache holds resolved values for a short TTL so hot fetch loops don't
	// repeatedly hit Key Vault for the same auth_ref every cadence tick.
	// nil disables caching.
	cache *cache.TTLCache
}

// NewResolver builds a Resolver with the given providers registered by
// their own declared scheme. cacheTTL of zero disables caching.
func NewResolver(cacheTTL time.Duration, providers ...Provider) *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider, len(providers)),
	}
	if cacheTTL > 0 {
		r.cache = cache.NewTTLCache(cacheTTL)
	}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Resolve is ResolveContext with a background context. ref must be a URI of the form
// scheme://opaque-or-host-path; an empty ref resolves to an empty string
// and no error (callers treat that as "no auth configured").
func (r *Resolver) Resolve(ref string) (string, error) {
	return r.ResolveContext(context.Background(), ref)
}

// ResolveContext is like Resolve but honors caller-supplied cancellation,
// used on the per-fetch deadline path.
func (r *Resolver) ResolveContext(ctx context.Context, ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", nil
	}

	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, ref); ok {
			return v.(string), nil
		}
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("secretref: invalid auth_ref %q: %w", ref, err)
	}
	r.mu.RLock()
	provider, ok := r.providers[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("secretref: no provider registered for scheme %q", u.Scheme)
	}

	value, err := provider.Resolve(ctx, u)
	if err != nil {
		return "", fmt.Errorf("secretref: resolve %q: %w", ref, err)
	}

	if r.cache != nil {
		r.cache.Set(ctx, ref, value)
	}
	return value, nil
}

// EnvProvider resolves env://NAME to os.Getenv(NAME). This is the default
// provider for local development and for any deployment that injects
// per-source secrets as container environment variables.
type EnvProvider struct{}

// Scheme implements Provider.
func (EnvProvider) Scheme() string { return "env" }

// Resolve implements Provider. The env variable name is taken from the
// URI's host component (env://NAME) with a fallback to Opaque for
// env:NAME-style references.
func (EnvProvider) Resolve(_ context.Context, ref *url.URL) (string, error) {
	name := ref.Host
	if name == "" {
		name = strings.TrimPrefix(ref.Opaque, "//")
	}
	if name == "" {
		return "", fmt.Errorf("env provider: empty variable name in %q", ref.String())
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("env provider: %s is not set", name)
	}
	return value, nil
}
