package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetenv(t *testing.T) {
	t.Setenv("TWCTL_TEST_VAR", "  value  ")
	if got := getenv("TWCTL_TEST_VAR", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := getenv("TWCTL_UNSET_VAR", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestHandleStats_SendsAuthAndPath(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Ticks":1}`))
	}))
	t.Cleanup(srv.Close)

	client := &apiClient{baseURL: srv.URL, token: "t", http: srv.Client()}
	if err := handleStats(context.Background(), client); err != nil {
		t.Fatalf("handleStats: %v", err)
	}
	if gotPath != "/debug/stats" {
		t.Fatalf("expected path /debug/stats, got %s", gotPath)
	}
	if gotAuth != "Bearer t" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestHandleResources_SendsExpectedPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cpu_percent":1.5}`))
	}))
	t.Cleanup(srv.Close)

	client := &apiClient{baseURL: srv.URL, http: srv.Client()}
	if err := handleResources(context.Background(), client); err != nil {
		t.Fatalf("handleResources: %v", err)
	}
	if gotPath != "/debug/resources" {
		t.Fatalf("expected path /debug/resources, got %s", gotPath)
	}
}

func TestHandleTrigger_RequiresSourceID(t *testing.T) {
	client := &apiClient{baseURL: "http://example.invalid", http: http.DefaultClient}
	if err := handleTrigger(context.Background(), client, nil); err == nil {
		t.Fatalf("expected error for missing source id")
	}
}

func TestApiClientRequest_PropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := &apiClient{baseURL: srv.URL, http: srv.Client()}
	if _, err := client.request(context.Background(), http.MethodGet, "/debug/stats", nil); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}
