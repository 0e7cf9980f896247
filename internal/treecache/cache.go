// Package treecache holds the bounded buffer-to-tree mapping and its
// least-recently-updated eviction policy.
package treecache

import (
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/jward/sapling/internal/syntax"
)

// DefaultMaxEntries is the default bound on cached trees.
const DefaultMaxEntries = 16

// Entry is the cached state of one buffer.
type Entry struct {
	Tree  *syntax.Tree
	Scope string
	// Updated is the monotonic stamp of the last write; set by Put.
	Updated int64
}

// recencyKey orders entries oldest first, ties broken by buffer ID.
type recencyKey struct {
	stamp int64
	id    int64
}

func lessRecency(a, b recencyKey) bool {
	if a.stamp != b.stamp {
		return a.stamp < b.stamp
	}
	return a.id < b.id
}

// Cache maps buffer IDs to their latest tree. The map is guarded internally
// and Get and Snapshot hand out copies, so readers on any goroutine may walk
// their trees while a worker writes. Ordering between writers of the same
// buffer is the caller's job.
type Cache struct {
	mu      sync.RWMutex
	max     int
	now     func() int64
	last    int64
	entries map[int64]*Entry
	recency *btree.BTreeG[recencyKey]
	onEvict func(id int64, e Entry)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the monotonic clock used to stamp entries.
func WithClock(now func() int64) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithEvictHook registers fn to run for each entry removed by capacity
// pressure. fn runs with the cache lock held and must not call back into
// the cache.
func WithEvictHook(fn func(id int64, e Entry)) Option {
	return func(c *Cache) {
		c.onEvict = fn
	}
}

// New creates a Cache holding at most max entries. max below 1 is raised
// to 1.
func New(max int, opts ...Option) *Cache {
	if max < 1 {
		max = 1
	}
	start := time.Now()
	c := &Cache{
		max: max,
		now: func() int64 { return int64(time.Since(start)) },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.init()
	return c
}

func (c *Cache) init() {
	c.entries = make(map[int64]*Entry)
	c.recency = btree.NewBTreeG(lessRecency)
}

// Get returns a copy of the tree cached for id.
func (c *Cache) Get(id int64) (*syntax.Tree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.Tree.Copy(), true
}

// Entry returns the entry cached for id. Its Tree is the stored one, not a
// copy: only its source may be read, or it may be copied.
func (c *Cache) Entry(id int64) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Put inserts or replaces the entry for id, stamps it, and evicts down to
// the configured bound. It returns the IDs evicted, oldest first.
func (c *Cache) Put(id int64, e Entry) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[id]; ok {
		c.recency.Delete(recencyKey{old.Updated, id})
	}
	e.Updated = c.stamp()
	c.entries[id] = &e
	c.recency.Set(recencyKey{e.Updated, id})
	return c.evict(c.max)
}

// EvictIfOverCapacity removes least-recently-updated entries until at most
// max remain, returning the evicted IDs oldest first.
func (c *Cache) EvictIfOverCapacity(max int) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evict(max)
}

func (c *Cache) evict(max int) []int64 {
	if max < 0 {
		max = 0
	}
	var evicted []int64
	for len(c.entries) > max {
		key, ok := c.recency.PopMin()
		if !ok {
			break
		}
		e := c.entries[key.id]
		delete(c.entries, key.id)
		evicted = append(evicted, key.id)
		if c.onEvict != nil && e != nil {
			c.onEvict(key.id, *e)
		}
	}
	return evicted
}

// stamp returns a strictly increasing clock reading so that a later write
// always ranks as more recent than an earlier one.
func (c *Cache) stamp() int64 {
	now := c.now()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// Remove deletes the entry for id, reporting whether one existed.
func (c *Cache) Remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return false
	}
	c.recency.Delete(recencyKey{e.Updated, id})
	delete(c.entries, id)
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of the current tree of every cached buffer.
func (c *Cache) Snapshot() map[int64]*syntax.Tree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]*syntax.Tree, len(c.entries))
	for id, e := range c.entries {
		out[id] = e.Tree.Copy()
	}
	return out
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
}
