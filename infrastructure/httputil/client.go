package httputil

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewClient builds the outbound HTTP client the fetchers and sink
// clients share: a clone of the default transport with TLS 1.2 as the
// floor and the caller's timeout. Per-fetch deadlines still come from
// each source's timeout via the request context; the client timeout is
// the backstop for callers that forget one.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: transportWithMinTLS12(),
	}
}

func transportWithMinTLS12() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	cloned := base.Clone()
	if cloned.TLSClientConfig == nil {
		cloned.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cloned.TLSClientConfig = cloned.TLSClientConfig.Clone()
		if cloned.TLSClientConfig.MinVersion < tls.VersionTLS12 {
			cloned.TLSClientConfig.MinVersion = tls.VersionTLS12
		}
	}
	return cloned
}
