// Package knowledge wraps the external article source behind a best-effort
// adapter with an on-disk cache. Callers never see network errors: Learn
// reports failure inside its result.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/normanking/alpha/internal/fault"
)

// Config configures the source adapter.
type Config struct {
	BaseURL      string
	MaxResults   int
	Timeout      time.Duration
	CacheEntries int
	CachePath    string
	RequestsLog  string
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://ru.wikipedia.org"
	}
	if c.MaxResults == 0 {
		c.MaxResults = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.CacheEntries == 0 {
		c.CacheEntries = 100
	}
}

// SearchResult is one hit from the search endpoint.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	PageID  int    `json:"pageid,omitempty"`
}

// Article is a fetched page.
type Article struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	FullText string   `json:"full_text"`
	URL      string   `json:"url"`
	Sections []string `json:"sections,omitempty"`
}

// LearnResult is the outcome of a Learn call. Success is always explicit;
// the zero value is a failure.
type LearnResult struct {
	Success            bool     `json:"success"`
	Topic              string   `json:"topic"`
	PageTitle          string   `json:"page_title,omitempty"`
	URL                string   `json:"url,omitempty"`
	ExtractPreview     string   `json:"extract_preview,omitempty"`
	KeyFacts           []string `json:"key_facts,omitempty"`
	FormattedKnowledge string   `json:"formatted_knowledge,omitempty"`
	Cached             bool     `json:"cached"`
	Error              string   `json:"error,omitempty"`
	Timestamp          string   `json:"timestamp"`
}

// Source adapts the external article endpoint.
type Source struct {
	cfg    Config
	client *http.Client
	cache  *diskCache
	reqLog *requestLog
	now    func() time.Time
}

// NewSource creates the adapter and loads its cache sidecars.
func NewSource(cfg Config) *Source {
	cfg.defaults()
	return &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  newDiskCache(cfg.CachePath, cfg.CacheEntries),
		reqLog: newRequestLog(cfg.RequestsLog),
		now:    time.Now,
	}
}

// Available probes the source with a tiny search request.
func (s *Source) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL(url.Values{
		"action": {"query"}, "list": {"search"}, "srsearch": {"test"},
		"srlimit": {"1"}, "format": {"json"},
	}), nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Source) apiURL(q url.Values) string {
	return s.cfg.BaseURL + "/w/api.php?" + q.Encode()
}

// Search queries the search endpoint and returns at most MaxResults hits.
func (s *Source) Search(ctx context.Context, query string) ([]SearchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL(url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {fmt.Sprintf("%d", s.cfg.MaxResults)},
		"format":   {"json"},
	}), nil)
	if err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.search", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.search", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.SourceUnavailable, "knowledge.search", "status %d", resp.StatusCode)
	}

	var payload struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
				PageID  int    `json:"pageid"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.search", err)
	}

	results := make([]SearchResult, 0, len(payload.Query.Search))
	for _, hit := range payload.Query.Search {
		results = append(results, SearchResult{
			Title:   hit.Title,
			Snippet: stripTags(hit.Snippet),
			PageID:  hit.PageID,
		})
	}
	return results, nil
}

// Fetch retrieves a page by title: plaintext extract for the body plus the
// rendered HTML for section headings.
func (s *Source) Fetch(ctx context.Context, title string) (*Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL(url.Values{
		"action":      {"query"},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"titles":      {title},
		"format":      {"json"},
	}), nil)
	if err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.fetch", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.fetch", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.Newf(fault.SourceUnavailable, "knowledge.fetch", "status %d", resp.StatusCode)
	}

	var payload struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
				Missing *struct{} `json:"missing,omitempty"`
			} `json:"pages"`
		} `json:"query"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fault.New(fault.SourceUnavailable, "knowledge.fetch", err)
	}

	var art *Article
	for id, page := range payload.Query.Pages {
		if id == "-1" || page.Missing != nil || page.Extract == "" {
			continue
		}
		art = &Article{
			Title:    page.Title,
			FullText: page.Extract,
			Summary:  firstParagraph(page.Extract),
			URL:      s.cfg.BaseURL + "/wiki/" + url.PathEscape(strings.ReplaceAll(page.Title, " ", "_")),
		}
		break
	}
	if art == nil {
		return nil, fault.Newf(fault.SourceUnavailable, "knowledge.fetch", "page %q not found", title)
	}

	if sections, err := s.fetchSections(ctx, art.Title); err == nil {
		art.Sections = sections
	}
	return art, nil
}

// fetchSections pulls the rendered page and collects heading titles.
func (s *Source) fetchSections(ctx context.Context, title string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL(url.Values{
		"action": {"parse"},
		"page":   {title},
		"prop":   {"text"},
		"format": {"json"},
	}), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Parse struct {
			Text map[string]string `json:"text"`
		} `json:"parse"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	html := payload.Parse.Text["*"]
	if html == "" {
		return nil, fmt.Errorf("empty parse body")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var sections []string
	doc.Find("h2, h3").Each(func(_ int, sel *goquery.Selection) {
		heading := strings.TrimSpace(sel.Text())
		if heading != "" {
			sections = append(sections, heading)
		}
	})
	return sections, nil
}

// Learn looks the topic up in the cache, else searches and fetches the best
// hit. It never returns an error: failures are encoded in the result.
func (s *Source) Learn(ctx context.Context, topic string) LearnResult {
	ts := s.now().Format(time.RFC3339)

	if entry, ok := s.cache.get(cacheKey(topic)); ok {
		s.reqLog.append(ts, topic, true, true)
		return LearnResult{
			Success:            true,
			Topic:              topic,
			PageTitle:          entry.PageTitle,
			URL:                entry.URL,
			ExtractPreview:     entry.ExtractPreview,
			KeyFacts:           entry.KeyFacts,
			FormattedKnowledge: entry.FormattedKnowledge,
			Cached:             true,
			Timestamp:          ts,
		}
	}

	fail := func(err error) LearnResult {
		log.Warn().Err(err).Str("topic", topic).Msg("external study failed")
		s.reqLog.append(ts, topic, false, false)
		return LearnResult{Success: false, Topic: topic, Error: err.Error(), Timestamp: ts}
	}

	hits, err := s.Search(ctx, topic)
	if err != nil {
		return fail(err)
	}
	if len(hits) == 0 {
		return fail(fmt.Errorf("no search results for %q", topic))
	}

	art, err := s.Fetch(ctx, hits[0].Title)
	if err != nil {
		return fail(err)
	}

	facts := extractKeyFacts(art.FullText, topic, 5)
	formatted := formatKnowledge(art, facts)

	entry := cacheEntry{
		Topic:              topic,
		PageTitle:          art.Title,
		URL:                art.URL,
		ExtractPreview:     preview(art.FullText, 500),
		KeyFacts:           facts,
		FormattedKnowledge: formatted,
		CachedAt:           ts,
	}
	s.cache.put(cacheKey(topic), entry)
	s.reqLog.append(ts, topic, true, false)

	return LearnResult{
		Success:            true,
		Topic:              topic,
		PageTitle:          art.Title,
		URL:                art.URL,
		ExtractPreview:     entry.ExtractPreview,
		KeyFacts:           facts,
		FormattedKnowledge: formatted,
		Cached:             false,
		Timestamp:          ts,
	}
}

// Stats reports cache size and request counts for status snapshots.
func (s *Source) Stats() map[string]any {
	return map[string]any{
		"cache_entries":  s.cache.size(),
		"total_requests": s.reqLog.count(),
	}
}

func formatKnowledge(art *Article, facts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Источник: %s (%s)\n\n", art.Title, art.URL)
	b.WriteString(preview(art.FullText, 1500))
	if len(facts) > 0 {
		b.WriteString("\n\nКлючевые факты:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func firstParagraph(text string) string {
	if i := strings.Index(text, "\n\n"); i > 0 {
		return strings.TrimSpace(text[:i])
	}
	return preview(text, 500)
}

func preview(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "..."
}

func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
