package ops

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/threatwatch/internal/collect"
)

// fakeEngine satisfies Engine without a real Collection Engine.
type fakeEngine struct {
	stats     collect.Stats
	triggered []string
}

func (e *fakeEngine) Trigger(sourceID string) { e.triggered = append(e.triggered, sourceID) }
func (e *fakeEngine) Stats() collect.Stats    { return e.stats }

func TestHandleStats_EngineNotWired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	handleStats(nil)(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStats_ReturnsEngineCounters(t *testing.T) {
	engine := &fakeEngine{stats: collect.Stats{Ticks: 3, Fetches: 10, ItemsSeen: 42}}
	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	handleStats(engine)(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ItemsSeen":42`)
}

func TestHandleTrigger_RequiresSourceID(t *testing.T) {
	engine := &fakeEngine{}
	// chi.URLParam returns "" without a chi router context, mirroring a
	// malformed path.
	req := httptest.NewRequest(http.MethodPost, "/debug/trigger/", nil)
	rec := httptest.NewRecorder()
	handleTrigger(engine)(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, engine.triggered)
}

func TestHandleReload_NotWired(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/debug/reload", nil)
	rec := httptest.NewRecorder()
	handleReload(nil)(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleReload_PropagatesError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/debug/reload", nil)
	rec := httptest.NewRecorder()
	handleReload(func() error { return assert.AnError })(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReload_Success(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodPost, "/debug/reload", nil)
	rec := httptest.NewRecorder()
	handleReload(func() error { called = true; return nil })(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

func TestHandleSinks_OmitsUnwiredCounters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/debug/sinks", nil)
	rec := httptest.NewRecorder()
	handleSinks(nil, func() int { return 7 })(rec, req)
	body := rec.Body.String()
	assert.Contains(t, body, `"vector_dead_letters":7`)
	assert.NotContains(t, body, "graph_dead_letters")
}

func TestHandleResources_ReturnsSnapshot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/debug/resources", nil)
	rec := httptest.NewRecorder()
	handleResources()(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memory_total_mb")
}

func TestBearerTokenGate_RejectsMissingAndWrongToken(t *testing.T) {
	gate := bearerTokenGate("correct-token")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate(next)

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerTokenGate_AcceptsMatchingToken(t *testing.T) {
	gate := bearerTokenGate("correct-token")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := gate(next)

	req := httptest.NewRequest(http.MethodGet, "/debug/stats", nil)
	req.Header.Set("Authorization", "Bearer correct-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// ensure the fake satisfies Engine at compile time.
var _ Engine = (*fakeEngine)(nil)
