package httputil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/R3E-Network/threatwatch/infrastructure/runtime"
)

// ValidateEndpoint checks a source or sink endpoint URL: absolute,
// http(s), a real host, and no embedded userinfo (credentials belong in
// auth_ref, never the URL). In production the scheme must be https —
// feed contents drive scoring, so a plaintext fetch path is a tampering
// vector, not just a privacy leak. Websocket endpoints get the same
// treatment with ws/wss.
func ValidateEndpoint(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("endpoint is not a valid URL: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute URL")
	}
	if parsed.User != nil {
		return nil, fmt.Errorf("endpoint must not embed credentials")
	}

	switch parsed.Scheme {
	case "http", "ws":
		if runtime.IsProduction() {
			return nil, fmt.Errorf("endpoint must use %ss in production", parsed.Scheme)
		}
	case "https", "wss":
	default:
		return nil, fmt.Errorf("endpoint scheme %q is not supported", parsed.Scheme)
	}

	return parsed, nil
}
