package collect

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/R3E-Network/threatwatch/domain/intel"
	"github.com/R3E-Network/threatwatch/infrastructure/httputil"
)

// webStrategy is one extraction attempt over a fetched page; it returns the
// extracted item and whether it produced usable content. WebFetcher tries
// each strategy in order and keeps the first success, generalizing
// infrastructure/fallback.Handler's "try primary then fallbacks" idiom from
// a fixed primary+N-fallbacks shape to an ordered N-strategy cascade.
type webStrategy func(doc []byte, sourceURL string) (intel.RawItem, bool)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
var articleRe = regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`)
var mainRe = regexp.MustCompile(`(?is)<main[^>]*>(.*?)</main>`)
var bodyRe = regexp.MustCompile(`(?is)<body[^>]*>(.*?)</body>`)
var tagRe = regexp.MustCompile(`(?is)<[^>]+>`)
var scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)

// readabilityStrategy approximates a readability-style extraction: prefer a
// single dominant <article> block, stripped of tags, as the body.
func readabilityStrategy(doc []byte, _ string) (intel.RawItem, bool) {
	match := articleRe.FindSubmatch(doc)
	if match == nil {
		return intel.RawItem{}, false
	}
	body := stripTags(match[1])
	if len(strings.TrimSpace(body)) < 40 {
		return intel.RawItem{}, false
	}
	return intel.RawItem{Title: extractTitle(doc), Body: body}, true
}

// structuralStrategy falls back to a named structural container (<main>)
// when no <article> is present.
func structuralStrategy(doc []byte, _ string) (intel.RawItem, bool) {
	match := mainRe.FindSubmatch(doc)
	if match == nil {
		return intel.RawItem{}, false
	}
	body := stripTags(match[1])
	if len(strings.TrimSpace(body)) < 40 {
		return intel.RawItem{}, false
	}
	return intel.RawItem{Title: extractTitle(doc), Body: body}, true
}

// renderedStrategy is the last-resort cascade step: strip the whole <body>
// of markup. Named "rendered" even though this
// implementation does not execute JavaScript — a headless-rendering
// backend would slot in here without changing the cascade's shape.
func renderedStrategy(doc []byte, _ string) (intel.RawItem, bool) {
	match := bodyRe.FindSubmatch(doc)
	source := doc
	if match != nil {
		source = match[1]
	}
	body := stripTags(source)
	body = strings.TrimSpace(body)
	if body == "" {
		return intel.RawItem{}, false
	}
	return intel.RawItem{Title: extractTitle(doc), Body: body}, true
}

func extractTitle(doc []byte) string {
	match := titleRe.FindSubmatch(doc)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(stripTags(match[1]))
}

func stripTags(doc []byte) string {
	cleaned := scriptStyleRe.ReplaceAll(doc, nil)
	cleaned = tagRe.ReplaceAll(cleaned, []byte(" "))
	return collapseWhitespace(string(cleaned))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DefaultWebStrategies is the cascade order NewWebFetcher installs and
// Fetch falls back to when Strategies is empty: readability-style, then
// structural, then rendered.
func DefaultWebStrategies() []webStrategy {
	return []webStrategy{readabilityStrategy, structuralStrategy, renderedStrategy}
}

// WebFetcher extracts a single article per source page via an ordered
// cascade of strategies. The cascade is set per fetcher through
// Strategies; every web source fetched by one WebFetcher uses the same
// cascade, and a source descriptor cannot select its own.
type WebFetcher struct {
	Client     *http.Client
	Strategies []webStrategy
}

// NewWebFetcher builds a WebFetcher with the default strategy cascade.
func NewWebFetcher(client *http.Client) *WebFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebFetcher{Client: client, Strategies: DefaultWebStrategies()}
}

// Fetch implements Fetcher.
func (f *WebFetcher) Fetch(fc FetchContext) (FetchResult, error) {
	req, err := http.NewRequestWithContext(fc.Ctx, http.MethodGet, fc.Source.Endpoint, nil)
	if err != nil {
		return FetchResult{Outcome: Fatal("build request: " + err.Error())}, nil
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

	strategies := f.Strategies
	if len(strategies) == 0 {
		strategies = DefaultWebStrategies()
	}

	for _, strategy := range strategies {
		item, ok := strategy(body, fc.Source.Endpoint)
		if !ok {
			continue
		}
		item.SourceID = fc.Source.ID
		item.FetchedAt = time.Now().UTC()
		item.URL = fc.Source.Endpoint
		return FetchResult{Items: []intel.RawItem{item}, Outcome: OK()}, nil
	}

	return FetchResult{Outcome: Fatal(fmt.Sprintf("no extraction strategy succeeded for %s", fc.Source.Endpoint))}, nil
}
