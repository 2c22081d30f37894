// Package httputil holds the HTTP plumbing shared by the fetchers, the
// sink clients, and the operator surface: the JSON error envelope,
// bounded body reading, client construction, endpoint validation, and
// client-IP extraction.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/R3E-Network/threatwatch/infrastructure/logging"
)

// ErrorResponse is the JSON error envelope every operator-surface error
// uses, so twctl can parse failures uniformly.
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes the standard error envelope, carrying the
// request's trace id when one is present.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	if code == "" {
		code = fmt.Sprintf("HTTP_%d", status)
	}

	traceID := ""
	if r != nil {
		traceID = logging.GetTraceID(r.Context())
		if traceID == "" {
			traceID = r.Header.Get("X-Trace-ID")
		}
	}
	if traceID == "" {
		traceID = w.Header().Get("X-Trace-ID")
	}
	if traceID != "" && w.Header().Get("X-Trace-ID") == "" {
		w.Header().Set("X-Trace-ID", traceID)
	}

	WriteJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
		TraceID: traceID,
	})
}
