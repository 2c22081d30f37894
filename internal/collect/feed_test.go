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

const sampleRSS = `<?xml version="1.0"?>
<rss><channel>
<item>
  <guid>guid-1</guid>
  <title>Ransomware hits widget co</title>
  <description>Body text here</description>
  <link>https://example.com/1</link>
  <pubDate>Mon, 02 Jan 2006 15:04:05 MST</pubDate>
</item>
</channel></rss>`

const sampleAtom = `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<entry>
  <id>urn:entry-1</id>
  <title>Phishing campaign observed</title>
  <summary>Campaign summary</summary>
  <published>2024-05-01T00:00:00Z</published>
  <link href="https://example.com/entry-1" rel="alternate"/>
</entry>
</feed>`

func TestFeedFetcher_RSS(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, result.Outcome.Kind)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "guid-1", result.Items[0].ExternalID)
	assert.Equal(t, "Ransomware hits widget co", result.Items[0].Title)
	assert.Equal(t, `"abc"`, result.ETag)
}

func TestFeedFetcher_Atom(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleAtom))
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	src := source.Source{ID: "s2", Kind: source.KindFeed, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "urn:entry-1", result.Items[0].ExternalID)
	assert.Equal(t, "https://example.com/entry-1", result.Items[0].URL)
}

func TestFeedFetcher_NotModified(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src, Watermark: Watermark{ETag: `"abc"`}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotModified, result.Outcome.Kind)
}

func TestFeedFetcher_ServerErrorIsRetryable(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryable, result.Outcome.Kind)
}

func TestFeedFetcher_NotFoundIsFatal(t *testing.T) {
	srv := testutil.NewHTTPTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFeedFetcher(srv.Client())
	src := source.Source{ID: "s1", Kind: source.KindFeed, Endpoint: srv.URL, CadenceSeconds: 60}
	result, err := f.Fetch(FetchContext{Ctx: context.Background(), Source: src})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFatal, result.Outcome.Kind)
}
