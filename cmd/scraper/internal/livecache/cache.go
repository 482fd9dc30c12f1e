// Package livecache holds the latest quote per index code between snapshot
// cycles. Writes come from the frame handler, reads from the snapshot
// scheduler and the control API.
package livecache

import (
	"sync"
	"time"

	"github.com/pnthang/market-collector/pkg/models"
)

type entry struct {
	rec    models.QuoteRecord
	seenAt time.Time
}

// Cache is a last-write-wins map of index code to quote, safe for concurrent
// use. Each entry carries the wall time of its last write so stale codes can
// be swept.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   Clock
}

func New(clock Clock) *Cache {
	if clock == nil {
		clock = RealClock{}
	}
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Put stores or overwrites the quote for its code and refreshes the
// last-seen timestamp.
func (c *Cache) Put(rec models.QuoteRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[rec.Code] = entry{rec: rec, seenAt: c.clock.Now()}
}

// Get returns the current quote for a code.
func (c *Cache) Get(code string) (models.QuoteRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[code]
	return e.rec, ok
}

// Has reports whether a code is currently cached.
func (c *Cache) Has(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[code]
	return ok
}

// Len returns the number of cached codes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot copies the current contents. Entries stay cached after a
// snapshot; persistence-side dedup handles unchanged quotes.
func (c *Cache) Snapshot() map[string]models.QuoteRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.QuoteRecord, len(c.entries))
	for code, e := range c.entries {
		out[code] = e.rec
	}
	return out
}

// Sweep removes entries not written within maxAge and returns how many were
// dropped. A non-positive maxAge disables sweeping.
func (c *Cache) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := c.clock.Now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for code, e := range c.entries {
		if e.seenAt.Before(cutoff) {
			delete(c.entries, code)
			removed++
		}
	}
	return removed
}
