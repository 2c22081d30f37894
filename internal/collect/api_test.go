package collect

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/domain/source"
	"github.com/R3E-Network/threatwatch/infrastructure/testutil"
)

const sampleAPIBody = `{
  "items": [
    {"id": "1", "title": "Botnet resurfaces", "body": "details", "url": "https://x/1", "published": "2024-05-01T00:00:00Z", "severity": "high"},
    {"id": "2", "title": "Low severity chatter", "body": "details", "url": "https://x/2", "published": "2024-05-02T00:00:00Z", "severity": "low"}
  ]
}`

func apiMapping() *source.JSONMapping {
	return &source.JSONMapping{ID: "id", Title: "title", Body: "body", PublishedAt: "published"}
}

func TestAPIFetcher_MapsItems(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleAPIBody))
	}))
	defer srv.Close()

	f := NewAPIFetcher(srv.Client())
	src := source.Source{ID: "api1", Kind: source.KindAPI, Endpoint: srv.URL, CadenceSeconds: 60, Mapping: apiMapping()}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src, Credential: "Bearer tok"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome.Kind)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "1", result.Items[0].ExternalID)
	assert.Equal(t, "Botnet resurfaces", result.Items[0].Title)
	assert.Equal(t, "2024-05-01T00:00:00Z", result.Items[0].Extras["published_at_raw"])
}

func TestAPIFetcher_ItemFilter(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleAPIBody))
	}))
	defer srv.Close()

	f := NewAPIFetcher(srv.Client())
	src := source.Source{
		ID: "api1", Kind: source.KindAPI, Endpoint: srv.URL, CadenceSeconds: 60,
		Mapping: apiMapping(),
		Extras:  map[string]string{"item_filter": "$[?(@.severity=='high')]"},
	}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "1", result.Items[0].ExternalID)
}

func TestAPIFetcher_MissingMappingIsFatal(t *testing.T) {
	f := NewAPIFetcher(nil)
	src := source.Source{ID: "api1", Kind: source.KindAPI, Endpoint: "https://example.com"}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFatal, result.Outcome.Kind)
}

func TestAPIFetcher_TopLevelArray(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","title":"One","body":"b"}]`))
	}))
	defer srv.Close()

	f := NewAPIFetcher(srv.Client())
	src := source.Source{ID: "api1", Kind: source.KindAPI, Endpoint: srv.URL, CadenceSeconds: 60, Mapping: apiMapping()}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "a", result.Items[0].ExternalID)
}

func TestAPIFetcher_RateLimited(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewAPIFetcher(srv.Client())
	src := source.Source{ID: "api1", Kind: source.KindAPI, Endpoint: srv.URL, CadenceSeconds: 60, Mapping: apiMapping()}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryable, result.Outcome.Kind)
	assert.Equal(t, 2e9, float64(result.Outcome.RetryAfter))
}
