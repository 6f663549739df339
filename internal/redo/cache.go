package redo

import (
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/untoldecay/trustchain/internal/event"
)

// cacheEntry is one loaded record held in either the flush cache or the
// read cache.
type cacheEntry struct {
	header     event.Header
	data       []byte
	lookup     Lookup
	insertedAt time.Time
}

// recordCache layers a bounded size/TTL eviction policy on top of an
// ordered map keyed by insertion time: go-ordered-map already gives
// O(1) lookup by key *and* insertion-ordered iteration in one
// structure, so the read cache and the redo log's flush cache both sit
// directly on top of it rather than
// hand-rolling the pair described in the design notes.
type recordCache struct {
	mu      sync.Mutex
	order   *orderedmap.OrderedMap[event.Hash, *cacheEntry]
	maxSize int           // 0 == unbounded
	ttl     time.Duration // 0 == no expiry
}

func newRecordCache(maxSize int, ttl time.Duration) *recordCache {
	return &recordCache{
		order:   orderedmap.New[event.Hash, *cacheEntry](),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *recordCache) get(h event.Hash) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.order.Get(h)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.insertedAt) > c.ttl {
		c.order.Delete(h)
		return nil, false
	}
	return entry, true
}

func (c *recordCache) put(h event.Hash, entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Set(h, entry)
	c.evictLocked()
}

// remove drops h from the cache if present (used when migrating entries
// out of the flush cache on flush).
func (c *recordCache) remove(h event.Hash) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.order.Get(h)
	if ok {
		c.order.Delete(h)
	}
	return entry, ok
}

// drain empties the cache, returning every entry in insertion order.
func (c *recordCache) drain() []struct {
	hash  event.Hash
	entry *cacheEntry
} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []struct {
		hash  event.Hash
		entry *cacheEntry
	}
	for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, struct {
			hash  event.Hash
			entry *cacheEntry
		}{pair.Key, pair.Value})
	}
	c.order = orderedmap.New[event.Hash, *cacheEntry]()
	return out
}

func (c *recordCache) evictLocked() {
	if c.ttl > 0 {
		var expired []event.Hash
		now := time.Now()
		for pair := c.order.Oldest(); pair != nil; pair = pair.Next() {
			if now.Sub(pair.Value.insertedAt) > c.ttl {
				expired = append(expired, pair.Key)
			}
		}
		for _, h := range expired {
			c.order.Delete(h)
		}
	}
	if c.maxSize > 0 {
		for c.order.Len() > c.maxSize {
			oldest := c.order.Oldest()
			if oldest == nil {
				break
			}
			c.order.Delete(oldest.Key)
		}
	}
}

func (c *recordCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
