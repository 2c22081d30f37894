package collect

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
	"github.com/R3E-Network/threatwatch/domain/source"
)

// APIFetcher issues a GET with an optional auth header, expects a JSON
// response, and extracts fields per the source's declarative mapping.
// Field paths are evaluated with tidwall/gjson. When a source sets extras["item_filter"] to a jsonpath predicate
// expression, PaesslerAG/jsonpath filters the decoded item list before
// per-item field extraction — gjson's path dialect has no predicate filter
// operator, so the two libraries cover distinct parts of the same
// declarative-mapping feature.
type APIFetcher struct {
	Client *http.Client
}

// NewAPIFetcher builds an APIFetcher over the given HTTP client, or
// http.DefaultClient when nil.
func NewAPIFetcher(client *http.Client) *APIFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIFetcher{Client: client}
}

// commonListKeys are tried, in order, to locate the item array when the
// response body is a JSON object rather than a bare top-level array.
var commonListKeys = []string{"items", "results", "data", "entries", "articles", "records"}

// Fetch implements Fetcher.
func (f *APIFetcher) Fetch(fc FetchContext) (FetchResult, error) {
	if fc.Source.Mapping == nil {
		return FetchResult{Outcome: Fatal("api source missing mapping")}, nil
	}

	req, err := http.NewRequestWithContext(fc.Ctx, http.MethodGet, fc.Source.Endpoint, nil)
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

	return FetchResult{Items: items, Outcome: OK()}, nil
}

func locateItemElements(body []byte) ([][]byte, error) {
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		return elementsOf(parsed), nil
	}
	if parsed.IsObject() {
		for _, key := range commonListKeys {
			if v := parsed.Get(key); v.Exists() && v.IsArray() {
				return elementsOf(v), nil
			}
		}
		// No array found under a common key: treat the whole object as a
		// single-element response.
		return [][]byte{body}, nil
	}
	return nil, fmt.Errorf("response is neither a JSON array nor object")
}

func elementsOf(v gjson.Result) [][]byte {
	arr := v.Array()
	out := make([][]byte, 0, len(arr))
	for _, el := range arr {
		out = append(out, []byte(el.Raw))
	}
	return out
}

func applyJSONPathFilter(elements [][]byte, expr string) ([][]byte, error) {
	decoded := make([]interface{}, 0, len(elements))
	for _, el := range elements {
		var v interface{}
		if err := json.Unmarshal(el, &v); err != nil {
			return nil, fmt.Errorf("decode element: %w", err)
		}
		decoded = append(decoded, v)
	}

	result, err := jsonpath.Get(expr, decoded)
	if err != nil {
		return nil, fmt.Errorf("evaluate jsonpath %q: %w", expr, err)
	}

	matched, ok := result.([]interface{})
	if !ok {
		matched = []interface{}{result}
	}

	out := make([][]byte, 0, len(matched))
	for _, m := range matched {
		encoded, err := json.Marshal(m)
		if err != nil {
			continue
		}
		out = append(out, encoded)
	}
	return out, nil
}

// mapElement applies a source's declarative JSONMapping to one decoded
// response element.
func mapElement(raw []byte, mapping source.JSONMapping, sourceID string, fetchedAt time.Time) intel.RawItem {
	parsed := gjson.ParseBytes(raw)

	item := intel.RawItem{
		SourceID:   sourceID,
		FetchedAt:  fetchedAt,
		ExternalID: gjson.GetBytes(raw, mapping.ID).String(),
		Title:      gjson.GetBytes(raw, mapping.Title).String(),
		Body:       gjson.GetBytes(raw, mapping.Body).String(),
		Extras:     map[string]any{},
	}

	if urlField := parsed.Get("url"); urlField.Exists() {
		item.URL = urlField.String()
	}

	if mapping.PublishedAt != "" {
		if pub := gjson.GetBytes(raw, mapping.PublishedAt); pub.Exists() {
			item.Extras["published_at_raw"] = pub.String()
		}
	}

	return item
}
