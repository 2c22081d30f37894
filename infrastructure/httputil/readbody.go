package httputil

import (
	"fmt"
	"io"
)

// ReadBounded reads at most limit bytes from r, reporting whether the
// source had more. Fetchers use the truncated flag to decide between
// "keep what we got" and "reject the response" per source kind.
func ReadBounded(r io.Reader, limit int64) (body []byte, truncated bool, err error) {
	if r == nil {
		return nil, false, fmt.Errorf("httputil: nil reader")
	}
	if limit <= 0 {
		return nil, false, fmt.Errorf("httputil: non-positive read limit %d", limit)
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) > limit {
		return b[:limit], true, nil
	}
	return b, false, nil
}
