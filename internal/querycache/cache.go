package querycache

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/veldt-lab/veldt/internal/core/clock"
)

// Status reports how a Fetch was served.
type Status string

const (
	StatusHit    Status = "HIT"
	StatusMiss   Status = "MISS"
	StatusBypass Status = "BYPASS"
)

// BypassHeader forces a Fetch around the cache when set to "1".
const BypassHeader = "X-Cache-Bypass"

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc func(ctx context.Context) (interface{}, error)

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Bypasses uint64 `json:"bypasses"`
	Entries  int    `json:"entries"`
}

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

// Cache wraps expensive read queries with a TTL cache. Entries are immutable
// once written (a recomputation replaces the entry), expiry is checked
// passively on read, and there is no capacity bound: the set of distinct
// query shapes is small and enumerable, so callers bound memory via TTL.
//
// Concurrent identical misses are collapsed per key with singleflight, so
// an expired hot key recomputes once under a stampede.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	clk     clock.Clock
	enabled bool
	flight  singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	bypasses atomic.Uint64
}

// New creates a query cache. A disabled cache degrades every Fetch to a
// direct compute tagged BYPASS, preserving caller semantics.
func New(clk clock.Clock, enabled bool) *Cache {
	if clk == nil {
		panic("querycache: clock must not be nil")
	}
	return &Cache{
		entries: make(map[string]entry),
		clk:     clk,
		enabled: enabled,
	}
}

// Fetch returns the cached value for key when servable, otherwise invokes
// compute, stores the result with the given TTL and returns it as a MISS.
// Errors from compute propagate to the caller and are never cached.
func (c *Cache) Fetch(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (interface{}, Status, error) {
	if !c.enabled {
		c.bypasses.Add(1)
		value, err := compute(ctx)
		return value, StatusBypass, err
	}

	if value, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return value, StatusHit, nil
	}

	// Collapse concurrent identical misses; only the leader computes.
	value, err, _ := c.flight.Do(key, func() (interface{}, error) {
		// A follower may arrive after the leader stored the entry.
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, StatusMiss, err
	}

	c.misses.Add(1)
	return value, StatusMiss, nil
}

// Bypass invokes compute directly without consulting or writing the cache.
// Used for diagnostic calls whose results must not poison cached entries.
func (c *Cache) Bypass(ctx context.Context, compute ComputeFunc) (interface{}, Status, error) {
	c.bypasses.Add(1)
	value, err := compute(ctx)
	return value, StatusBypass, err
}

// ShouldBypass is the pure bypass predicate over an inbound request: an
// explicit bypass header or refresh query parameter skips the cache.
func ShouldBypass(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.Header.Get(BypassHeader) == "1" {
		return true
	}
	return r.URL.Query().Get("refresh") == "1"
}

// Invalidate drops the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Bypasses: c.bypasses.Load(),
		Entries:  entries,
	}
}

// lookup returns the value for key iff the entry is still servable:
// now - storedAt < ttl. Expired entries are evicted on sight.
func (c *Cache) lookup(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.clk.Now().Sub(e.storedAt) >= e.ttl {
		c.mu.Lock()
		// Re-check: a concurrent recomputation may have replaced the entry.
		if cur, ok := c.entries[key]; ok && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (c *Cache) store(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.clk.Now(), ttl: ttl}
	c.mu.Unlock()
}
