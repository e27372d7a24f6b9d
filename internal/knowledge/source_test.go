package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fractalExtract = `Фрактал — множество, обладающее свойством самоподобия.

Термин введён Бенуа Мандельбротом в 1975 году. Фракталы встречаются в природе: береговые линии, облака, кроны деревьев.`

func wikiStub(t *testing.T, searchCalls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "query":
			if q.Get("list") == "search" {
				if searchCalls != nil {
					atomic.AddInt32(searchCalls, 1)
				}
				json.NewEncoder(w).Encode(map[string]any{
					"query": map[string]any{
						"search": []map[string]any{
							{"title": "Фрактал", "snippet": "<span>Фрактал</span> — множество", "pageid": 42},
						},
					},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"query": map[string]any{
					"pages": map[string]any{
						"42": map[string]any{"title": "Фрактал", "extract": fractalExtract},
					},
				},
			})
		case "parse":
			json.NewEncoder(w).Encode(map[string]any{
				"parse": map[string]any{
					"text": map[string]any{"*": "<div><h2>История</h2><p>...</p><h2>Примеры</h2></div>"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSearchStripsMarkup(t *testing.T) {
	srv := wikiStub(t, nil)
	defer srv.Close()

	s := NewSource(Config{BaseURL: srv.URL})
	hits, err := s.Search(context.Background(), "фрактал")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Фрактал", hits[0].Title)
	assert.Equal(t, "Фрактал — множество", hits[0].Snippet)
	assert.Equal(t, 42, hits[0].PageID)
}

func TestFetchBuildsArticle(t *testing.T) {
	srv := wikiStub(t, nil)
	defer srv.Close()

	s := NewSource(Config{BaseURL: srv.URL})
	art, err := s.Fetch(context.Background(), "Фрактал")
	require.NoError(t, err)
	assert.Equal(t, "Фрактал", art.Title)
	assert.Contains(t, art.Summary, "самоподобия")
	assert.NotContains(t, art.Summary, "Мандельбротом")
	assert.Equal(t, []string{"История", "Примеры"}, art.Sections)
}

func TestLearnCachesSecondCall(t *testing.T) {
	var searchCalls int32
	srv := wikiStub(t, &searchCalls)
	defer srv.Close()

	dir := t.TempDir()
	s := NewSource(Config{
		BaseURL:     srv.URL,
		CachePath:   filepath.Join(dir, "internet_knowledge_cache.json"),
		RequestsLog: filepath.Join(dir, "internet_requests_log.json"),
	})

	first := s.Learn(context.Background(), "фрактал")
	require.True(t, first.Success)
	assert.False(t, first.Cached)
	assert.Equal(t, "Фрактал", first.PageTitle)
	assert.NotEmpty(t, first.KeyFacts)

	second := s.Learn(context.Background(), "фрактал")
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, first.FormattedKnowledge, second.FormattedKnowledge)
	assert.Equal(t, int32(1), atomic.LoadInt32(&searchCalls))
	assert.Equal(t, 2, s.reqLog.count())
}

func TestLearnNeverPanicsOnDeadSource(t *testing.T) {
	s := NewSource(Config{BaseURL: "http://127.0.0.1:1"})
	result := s.Learn(context.Background(), "чайник")
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, "чайник", result.Topic)
}

func TestCacheEvictsLeastAccessed(t *testing.T) {
	c := newDiskCache("", 2)
	c.put("a", cacheEntry{Topic: "a"})
	c.put("b", cacheEntry{Topic: "b"})
	c.get("a")
	c.get("a")
	c.put("c", cacheEntry{Topic: "c"})

	_, hasA := c.get("a")
	_, hasB := c.get("b")
	_, hasC := c.get("c")
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.True(t, hasC)
}

func TestExtractKeyFacts(t *testing.T) {
	facts := extractKeyFacts(fractalExtract, "фрактал", 5)
	require.NotEmpty(t, facts)
	assert.Contains(t, facts[0], "самоподобия")
	for _, f := range facts {
		assert.GreaterOrEqual(t, len([]rune(f)), 25)
		assert.LessOrEqual(t, len([]rune(f)), 400)
	}
}
