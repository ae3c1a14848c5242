// Package cache memoizes identical generation requests for a short TTL.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaykit/llm-relay/internal/types"
)

// entry is one stored response with its write timestamp.
type entry struct {
	response  types.GenerationResponse
	createdAt time.Time
}

// Stats reports cache performance counters.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is a mutex-guarded in-memory response cache with lazy expiry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	hits    int64
	misses  int64
}

// New creates a cache with the given TTL.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// Key derives the stable cache key for a request against a resolved model.
// Every field that affects the generated output participates: the message
// sequence, the model, the temperature, and the analysis class.
func Key(req *types.GenerationRequest, model string) string {
	var b strings.Builder
	for _, msg := range req.Messages {
		fmt.Fprintf(&b, "%s\x00%s\x00", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "model=%s\x00", model)
	if req.Temperature != nil {
		fmt.Fprintf(&b, "temp=%g\x00", *req.Temperature)
	}
	fmt.Fprintf(&b, "class=%s", req.AnalysisClass)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached response for a key when present and younger than
// the TTL. The returned copy is flagged Cached.
func (c *Cache) Get(key string) (*types.GenerationResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || time.Since(e.createdAt) > c.ttl {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}

	c.hits++
	resp := e.response
	resp.Cached = true
	return &resp, true
}

// Put stores a successful response under a key.
func (c *Cache) Put(key string, resp *types.GenerationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		response:  *resp,
		createdAt: time.Now(),
	}
}

// Sweep drops expired entries eagerly. Lazy expiry in Get keeps the cache
// correct without it; this only bounds memory between hits.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if time.Since(e.createdAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: int64(len(c.entries)),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
