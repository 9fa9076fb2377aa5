// Package tokencount provides token counting for the cl100k_base encoding,
// with a character-based fallback and an LRU/TTL cache in front of both, so
// repeated counts on the same bill text avoid re-tokenizing.
package tokencount

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultCacheSize = 2000
	defaultCacheTTL  = 1 * time.Hour
	cl100kEncoding   = "cl100k_base"
)

// Counter counts tokens in text, preferring the real BPE tokenizer and
// falling back to a character-based estimate if the encoding could not be
// loaded (e.g. no network access to fetch tiktoken's vocab file).
type Counter struct {
	enc   *tiktoken.Tiktoken
	cache *cache
}

// New builds a Counter. If the cl100k_base encoding cannot be loaded, the
// returned Counter silently falls back to EstimateTokens for every call;
// this matches spec.md §4.1's requirement that token counting never be a
// hard dependency of the rest of the pipeline.
func New() *Counter {
	enc, _ := tiktoken.GetEncoding(cl100kEncoding)
	return &Counter{
		enc:   enc,
		cache: newCache(defaultCacheSize, defaultCacheTTL),
	}
}

// Count returns the token count for text. A cache hit bypasses
// tokenization entirely.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if n, ok := c.cache.get(text); ok {
		return n
	}
	n := c.countUncached(text)
	c.cache.set(text, n)
	return n
}

func (c *Counter) countUncached(text string) int {
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// IsFallback reports whether Count is running on the character-based
// estimate because cl100k_base could not be loaded. Callers that size a
// token budget off of a fallback count must apply WithSafetyMargin per
// spec.md §4.1.
func (c *Counter) IsFallback() bool {
	return c.enc == nil
}

// EstimateTokens is the character-based heuristic, ceil(runes/4), that the
// Counter falls back to when cl100k_base cannot be loaded.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len([]rune(s)) + 3) / 4
}

// WithSafetyMargin applies spec.md §4.1's 20% safety buffer to a raw token
// count, rounding up.
func WithSafetyMargin(n int) int {
	margin := (n + 4) / 5 // ceil(n * 0.2)
	return n + margin
}

type cacheEntry struct {
	count      int
	expiration time.Time
	lastAccess time.Time
}

// cache is an LRU-with-TTL cache keyed by a SHA-256 digest of the input
// text, adapted from the token-count cache pattern in manifold's
// internal/llm/token_cache.go.
type cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
}

func newCache(maxSize int, ttl time.Duration) *cache {
	return &cache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *cache) get(text string) (int, bool) {
	key := hashText(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	now := time.Now()
	if now.After(entry.expiration) {
		delete(c.entries, key)
		return 0, false
	}
	entry.lastAccess = now
	c.entries[key] = entry
	return entry.count, true
}

func (c *cache) set(text string, count int) {
	key := hashText(text)
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.entries[key] = cacheEntry{
		count:      count,
		expiration: now.Add(c.ttl),
		lastAccess: now,
	}
}

func (c *cache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccess.Before(oldestTime) {
			oldestKey, oldestTime, first = key, entry.lastAccess, false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:16])
}
