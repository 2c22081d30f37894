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

const sampleArticlePage = `<html><head><title>Breach disclosed</title></head>
<body><nav>skip me</nav><article><p>A vendor disclosed a breach affecting many customers today.</p></article></body></html>`

const sampleBareBodyPage = `<html><head><title>Untitled advisory</title></head>
<body><script>var x = 1;</script><p>Plain advisory text with no article or main wrapper present here.</p></body></html>`

func TestWebFetcher_ReadabilityStrategy(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleArticlePage))
	}))
	defer srv.Close()

	f := NewWebFetcher(srv.Client())
	src := source.Source{ID: "w1", Kind: source.KindWeb, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome.Kind)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Breach disclosed", result.Items[0].Title)
	assert.Contains(t, result.Items[0].Body, "vendor disclosed a breach")
}

func TestWebFetcher_RenderedFallback(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleBareBodyPage))
	}))
	defer srv.Close()

	f := NewWebFetcher(srv.Client())
	src := source.Source{ID: "w1", Kind: source.KindWeb, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.NotContains(t, result.Items[0].Body, "var x")
	assert.Contains(t, result.Items[0].Body, "Plain advisory text")
}

func TestWebFetcher_NoExtractionIsFatal(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	}))
	defer srv.Close()

	f := NewWebFetcher(srv.Client())
	src := source.Source{ID: "w1", Kind: source.KindWeb, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFatal, result.Outcome.Kind)
}
