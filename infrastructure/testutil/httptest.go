// Package testutil holds helpers shared by the HTTP-facing test suites.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// NewHTTPTestServer starts an httptest.Server, skipping the test instead
// of failing when the environment forbids opening a listener.
func NewHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprint(r)
		if strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied") {
			t.Skipf("cannot open local listener here: %v", r)
		}
		panic(r)
	}()
	return httptest.NewServer(handler)
}
