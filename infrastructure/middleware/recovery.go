package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
	"github.com/R3E-Network/threatwatch/infrastructure/logging"
)

// RecoveryMiddleware converts a handler panic into a logged 500 instead
// of a dropped connection.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

// NewRecoveryMiddleware builds the middleware around logger.
func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

// Handler wraps next with the recover.
func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":  fmt.Sprintf("%v", v),
					"stack":  string(debug.Stack()),
					"path":   r.URL.Path,
					"method": r.Method,
				}).Error("panic recovered")

				httputil.WriteErrorResponse(w, r, http.StatusInternalServerError,
					"INTERNAL", "internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
