package collect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// classifyNetworkError maps a transport-level error (timeout, DNS, refused
// connection) to a fetch Outcome: a context deadline is always
// RETRYABLE("timeout"); everything else at the transport layer is also
// treated as transient, since TLS/DNS/connection failures are indistinguishable
// from a flaky upstream without inspecting the specific error further.
func classifyNetworkError(ctx context.Context, err error) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Retryable("timeout")
	}
	return Retryable(fmt.Sprintf("network error: %v", err))
}

// outcomeForStatus inspects an HTTP response's status code and returns
// (Outcome{}, false) with a populated Outcome when the response is not a
// success the caller should go on to parse. A (zero, true) means the caller
// should proceed to read and parse the body.
//
// A 429, or a 5xx carrying a Retry-After header, yields a RETRYABLE
// outcome whose RetryAfter holds the server-advised delay.
// 4xx other than 429 and 5xx/DNS-class failures are classified so that
// 5xx/429 -> RETRYABLE (TransientFetchError), other 4xx -> FATAL
// (PermanentFetchError).
func outcomeForStatus(resp *http.Response) (Outcome, bool) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{}, true
	case resp.StatusCode == http.StatusTooManyRequests:
		return RetryableAfter("rate limited", retryAfter(resp)), false
	case resp.StatusCode >= 500:
		return RetryableAfter(fmt.Sprintf("server error %d", resp.StatusCode), retryAfter(resp)), false
	case resp.StatusCode >= 400:
		return Fatal(fmt.Sprintf("client error %d", resp.StatusCode)), false
	default:
		return Fatal(fmt.Sprintf("unexpected status %d", resp.StatusCode)), false
	}
}

// retryAfter parses the Retry-After header as either a delay in seconds or
// an HTTP-date, returning zero when absent or unparseable.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
