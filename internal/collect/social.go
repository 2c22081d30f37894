package collect

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
	"github.com/R3E-Network/threatwatch/infrastructure/ratelimit"
)

// SocialFetcher behaves like APIFetcher (declarative JSON mapping, optional
// item_filter) but additionally token-bucket rate limits outbound requests —
// social/chatter APIs are the most rate-limit-sensitive source kind —
// and paginates via the watermark cursor.
// When a source sets extras["transport"]="stream", Fetch instead opens a
// gorilla/websocket connection and drains a bounded batch of messages per
// call rather than polling.
type SocialFetcher struct {
	Client   *http.Client
	Limiters map[string]*ratelimit.RateLimiter
	// Dialer is used for the streaming transport; defaults to
	// websocket.DefaultDialer when nil.
	Dialer *websocket.Dialer
	// StreamBatchSize bounds how many messages a single streaming Fetch call
	// drains before returning, keeping one call bounded like a poll.
	StreamBatchSize int
}

// NewSocialFetcher builds a SocialFetcher over the given HTTP client, or
// http.DefaultClient when nil.
func NewSocialFetcher(client *http.Client) *SocialFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SocialFetcher{
		Client:          client,
		Limiters:        make(map[string]*ratelimit.RateLimiter),
		StreamBatchSize: 50,
	}
}

func (f *SocialFetcher) limiterFor(sourceID string) *ratelimit.RateLimiter {
	if l, ok := f.Limiters[sourceID]; ok {
		return l
	}
	l := ratelimit.New(ratelimit.DefaultConfig())
	f.Limiters[sourceID] = l
	return l
}

// Fetch implements Fetcher.
func (f *SocialFetcher) Fetch(fc FetchContext) (FetchResult, error) {
	if strings.EqualFold(fc.Source.Extras["transport"], "stream") {
		return f.fetchStream(fc)
	}
	return f.fetchPoll(fc)
}

func (f *SocialFetcher) fetchPoll(fc FetchContext) (FetchResult, error) {
	if fc.Source.Mapping == nil {
		return FetchResult{Outcome: Fatal("social source missing mapping")}, nil
	}

	limiter := f.limiterFor(fc.Source.ID)
	if err := limiter.Wait(fc.Ctx); err != nil {
		return FetchResult{Outcome: Retryable("rate limit wait: " + err.Error())}, nil
	}

	endpoint := fc.Source.Endpoint
	if fc.Watermark.Cursor != "" {
		endpoint = appendCursor(endpoint, fc.Watermark.Cursor)
	}

	req, err := http.NewRequestWithContext(fc.Ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FetchResult{Outcome: Fatal("build request: " + err.Error())}, nil
	}
	req.Header.Set("Accept", "application/json")
	if fc.Credential != "" {
		req.Header.Set("Authorization", fc.Credential)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return FetchResult{Outcome: classifyNetworkError(fc.Ctx, err)}, nil
	}
	defer resp.Body.Close()

	if outcome, ok := outcomeForStatus(resp); !ok {
		return FetchResult{Outcome: outcome}, nil
	}

	body, truncated, err := httputil.ReadBounded(resp.Body, maxFeedBytes)
	if err != nil {
		return FetchResult{Outcome: Retryable("read body: " + err.Error())}, nil
	}
	if truncated {
		return FetchResult{Outcome: Fatal("response exceeds max body size")}, nil
	}

	elements, err := locateItemElements(body)
	if err != nil {
		return FetchResult{Outcome: Fatal("locate item list: " + err.Error())}, nil
	}
	if filterExpr := strings.TrimSpace(fc.Source.Extras["item_filter"]); filterExpr != "" {
		elements, err = applyJSONPathFilter(elements, filterExpr)
		if err != nil {
			return FetchResult{Outcome: Fatal("item_filter: " + err.Error())}, nil
		}
	}

	fetchedAt := time.Now().UTC()
	items := make([]intel.RawItem, 0, len(elements))
	for _, raw := range elements {
		item := mapElement(raw, *fc.Source.Mapping, fc.Source.ID, fetchedAt)
		if item.Title == "" && item.URL == "" && item.ExternalID == "" {
			continue
		}
		items = append(items, item)
	}

	cursor := fc.Watermark.Cursor
	if len(items) > 0 {
		cursor = items[len(items)-1].ExternalID
	}

	return FetchResult{Items: items, Outcome: OK(), Cursor: cursor}, nil
}

// fetchStream drains up to StreamBatchSize messages from a websocket
// connection and maps each through the source's mapping, same as the poll
// path. The connection is opened and closed per call; a long-lived
// subscription is the Collection Engine's concern, not the fetcher's.
func (f *SocialFetcher) fetchStream(fc FetchContext) (FetchResult, error) {
	if fc.Source.Mapping == nil {
		return FetchResult{Outcome: Fatal("social source missing mapping")}, nil
	}

	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if fc.Credential != "" {
		header.Set("Authorization", fc.Credential)
	}

	conn, resp, err := dialer.DialContext(fc.Ctx, fc.Source.Endpoint, header)
	if err != nil {
		if resp != nil {
			if outcome, ok := outcomeForStatus(resp); !ok {
				return FetchResult{Outcome: outcome}, nil
			}
		}
		return FetchResult{Outcome: classifyNetworkError(fc.Ctx, err)}, nil
	}
	defer conn.Close()

	batch := f.StreamBatchSize
	if batch <= 0 {
		batch = 50
	}

	fetchedAt := time.Now().UTC()
	items := make([]intel.RawItem, 0, batch)
	deadline := time.Now().Add(fc.Source.Timeout())
	conn.SetReadDeadline(deadline)

	for len(items) < batch {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			// A deadline/close once at least one message has arrived is a
			// normal end-of-tick drain, not a fetch failure.
			if len(items) > 0 {
				break
			}
			return FetchResult{Outcome: Retryable("websocket read: " + readErr.Error())}, nil
		}
		if !json.Valid(raw) {
			continue
		}
		item := mapElement(raw, *fc.Source.Mapping, fc.Source.ID, fetchedAt)
		if item.Title == "" && item.URL == "" && item.ExternalID == "" {
			continue
		}
		items = append(items, item)
	}

	cursor := fc.Watermark.Cursor
	if len(items) > 0 {
		cursor = items[len(items)-1].ExternalID
	}

	return FetchResult{Items: items, Outcome: OK(), Cursor: cursor}, nil
}

func appendCursor(endpoint, cursor string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("cursor", cursor)
	u.RawQuery = q.Encode()
	return u.String()
}
