package middleware

import (
	"net/http"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

const defaultMaxBodyBytes int64 = 1 << 20

// BodyLimitMiddleware caps request bodies. The operator surface only
// accepts tiny POST bodies, so anything large is either a mistake or
// abuse.
type BodyLimitMiddleware struct {
	maxBytes int64
}

// NewBodyLimitMiddleware builds the middleware; maxBytes <= 0 selects
// the 1 MiB default.
func NewBodyLimitMiddleware(maxBytes int64) *BodyLimitMiddleware {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return &BodyLimitMiddleware{maxBytes: maxBytes}
}

// Handler rejects oversized bodies up front when Content-Length is known
// and hard-caps the reader otherwise.
func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > m.maxBytes {
			httputil.WriteErrorResponse(w, r, http.StatusRequestEntityTooLarge,
				"BODY_TOO_LARGE", "request body too large",
				map[string]interface{}{"limit_bytes": m.maxBytes})
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
