package prompt

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/normanking/alpha/internal/memory"
	"github.com/normanking/alpha/internal/metrics"
)

// Entry is one cached response.
type Entry struct {
	Response     string
	TS           time.Time
	PromptTokens int
	Hits         int
}

// Cache is a bounded TTL cache for composed responses. Eviction is oldest
// entry first.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	max     int
	ttl     time.Duration
	hits    int
	now     func() time.Time
}

// NewCache creates a cache with the given capacity and entry TTL.
func NewCache(max int, ttl time.Duration) *Cache {
	if max <= 0 {
		max = 50
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{entries: map[string]*Entry{}, max: max, ttl: ttl, now: time.Now}
}

// CacheKey joins the top 3 relevant concept names with the message hash.
func CacheKey(concepts []memory.Scored, message string) string {
	names := make([]string, 0, 3)
	for i, c := range concepts {
		if i == 3 {
			break
		}
		names = append(names, c.Name)
	}
	sum := md5.Sum([]byte(message))
	return strings.Join(names, "_") + "_" + hex.EncodeToString(sum[:])[:8]
}

// Get returns the cached response when present and fresh.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(entry.TS) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	entry.Hits++
	c.hits++
	metrics.PromptCacheHits.Inc()
	return entry.Response, true
}

// Put stores a response, evicting the oldest entry on overflow.
func (c *Cache) Put(key, response string, promptTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictLocked()
	}
	c.entries[key] = &Entry{Response: response, TS: c.now(), PromptTokens: promptTokens}
}

func (c *Cache) evictLocked() {
	oldestKey := ""
	var oldestTS time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.TS.Before(oldestTS) {
			oldestKey = key
			oldestTS = entry.TS
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Hits returns the total hit count since boot.
func (c *Cache) Hits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
