package main

import (
	"context"
	"testing"

	"github.com/R3E-Network/threatwatch/infrastructure/config"
)

func TestCoalesce(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		fallback string
		want     string
	}{
		{"value wins", "configured", "default", "configured"},
		{"blank falls back", "", "default", "default"},
		{"whitespace-only falls back", "   ", "default", "default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := coalesce(tc.value, tc.fallback); got != tc.want {
				t.Fatalf("coalesce(%q, %q) = %q, want %q", tc.value, tc.fallback, got, tc.want)
			}
		})
	}
}

func TestBuildStores_EmptyEndpointFallsBackToMemory(t *testing.T) {
	env := config.DaemonEnv{}
	l1, l2, l3, redisClient, closeFn, err := buildStores(context.Background(), env, buildSecretResolver())
	if err != nil {
		t.Fatalf("buildStores: %v", err)
	}
	defer closeFn()

	if l1 == nil || l2 == nil || l3 == nil {
		t.Fatalf("expected in-memory backends for every tier, got l1=%v l2=%v l3=%v", l1, l2, l3)
	}
	if redisClient != nil {
		t.Fatalf("expected no redis client without a redis:// STORE_ENDPOINT entry")
	}
}

func TestBuildStores_UnparsableEntriesAreIgnored(t *testing.T) {
	env := config.DaemonEnv{StoreEndpoint: "not a url, also not one"}
	l1, l2, l3, redisClient, closeFn, err := buildStores(context.Background(), env, buildSecretResolver())
	if err != nil {
		t.Fatalf("buildStores: %v", err)
	}
	defer closeFn()

	if l1 == nil || l2 == nil || l3 == nil {
		t.Fatalf("expected in-memory fallback backends, got l1=%v l2=%v l3=%v", l1, l2, l3)
	}
	if redisClient != nil {
		t.Fatalf("expected no redis client for unparsable STORE_ENDPOINT")
	}
}
