package knowledge

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cacheKey derives the lookup key for a topic.
func cacheKey(topic string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(topic))))
	return hex.EncodeToString(sum[:])[:16]
}

type cacheEntry struct {
	Topic              string   `json:"topic"`
	PageTitle          string   `json:"page_title"`
	URL                string   `json:"url"`
	ExtractPreview     string   `json:"extract_preview"`
	KeyFacts           []string `json:"key_facts"`
	FormattedKnowledge string   `json:"formatted_knowledge"`
	CachedAt           string   `json:"cached_at"`
	AccessCount        int      `json:"access_count"`
	LastAccessed       string   `json:"last_accessed"`
}

// diskCache is a bounded JSON-file cache. Overflow evicts the entry with
// the fewest accesses.
type diskCache struct {
	mu      sync.Mutex
	path    string
	max     int
	entries map[string]cacheEntry
}

func newDiskCache(path string, max int) *diskCache {
	c := &diskCache{path: path, max: max, entries: map[string]cacheEntry{}}
	if path == "" {
		return c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("knowledge cache unreadable, starting empty")
		c.entries = map[string]cacheEntry{}
	}
	return c
}

func (c *diskCache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	entry.AccessCount++
	entry.LastAccessed = time.Now().Format(time.RFC3339)
	c.entries[key] = entry
	c.flushLocked()
	return entry, true
}

func (c *diskCache) put(key string, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictLocked()
	}
	entry.AccessCount = 1
	entry.LastAccessed = time.Now().Format(time.RFC3339)
	c.entries[key] = entry
	c.flushLocked()
}

// evictLocked drops the least-accessed entry.
func (c *diskCache) evictLocked() {
	victim := ""
	lowest := int(^uint(0) >> 1)
	for key, entry := range c.entries {
		if entry.AccessCount < lowest {
			lowest = entry.AccessCount
			victim = key
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

func (c *diskCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *diskCache) flushLocked() {
	if c.path == "" {
		return
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("knowledge cache write failed")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		log.Warn().Err(err).Msg("knowledge cache rename failed")
	}
}

type requestRecord struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	Success   bool   `json:"success"`
	Cached    bool   `json:"cached"`
}

// requestLog records every Learn call in a JSON sidecar.
type requestLog struct {
	mu      sync.Mutex
	path    string
	records []requestRecord
}

func newRequestLog(path string) *requestLog {
	l := &requestLog{path: path}
	if path == "" {
		return l
	}
	data, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(data, &l.records)
	}
	return l
}

func (l *requestLog) append(ts, topic string, success, cached bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, requestRecord{Timestamp: ts, Topic: topic, Success: success, Cached: cached})
	if l.path == "" {
		return
	}
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("request log write failed")
	}
}

func (l *requestLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
