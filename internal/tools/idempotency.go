package tools

import (
	"sync"
	"time"
)

// DefaultIdempotencyRetention bounds how long a cached result answers
// replays of the same (tool_name, idempotency_key).
const DefaultIdempotencyRetention = 24 * time.Hour

type idemKey struct {
	tool string
	key  string
}

type idemEntry struct {
	result   Result
	storedAt time.Time
}

// idempotencyCache remembers the first Result per (tool, key) so replays
// within the retention window return it verbatim without re-execution.
type idempotencyCache struct {
	mu        sync.Mutex
	entries   map[idemKey]idemEntry
	retention time.Duration
	nowFn     func() time.Time
}

func newIdempotencyCache(retention time.Duration) *idempotencyCache {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &idempotencyCache{
		entries:   make(map[idemKey]idemEntry),
		retention: retention,
		nowFn:     time.Now,
	}
}

// lookup returns the cached result for (tool, key) if it has not expired.
// Expired entries are removed on sight.
func (c *idempotencyCache) lookup(tool, key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := idemKey{tool: tool, key: key}
	entry, ok := c.entries[k]
	if !ok {
		return Result{}, false
	}
	if c.nowFn().Sub(entry.storedAt) > c.retention {
		delete(c.entries, k)
		return Result{}, false
	}
	return entry.result, true
}

// store caches the result for (tool, key), stamping it with the current time.
func (c *idempotencyCache) store(tool, key string, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[idemKey{tool: tool, key: key}] = idemEntry{
		result:   result,
		storedAt: c.nowFn(),
	}
}

// prune drops every expired entry and returns how many were removed.
func (c *idempotencyCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	removed := 0
	for k, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.retention {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// size returns the number of live entries, expired or not.
func (c *idempotencyCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
