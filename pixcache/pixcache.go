// Package pixcache keeps rendered pages in memory, bounded by their pixel cost
package pixcache

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/drummonds/goviewer/document"
	"github.com/oklog/ulid/v2"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Stats provides statistics about cache performance
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int64 `json:"entries"`
	Cost      int64 `json:"cost"`
	Capacity  int64 `json:"capacity"`
}

// Cache maps render requests to pixmaps. Lookups share a read lock; Put, eviction and
// invalidation are serialized. Recency is a monotonic access counter, not wall-clock time.
type Cache struct {
	mu       sync.RWMutex
	entries  map[document.RenderRequest]*entry
	byDoc    map[ulid.ULID]map[document.RenderRequest]*entry
	cost     int64
	capacity int64

	clock     atomic.Uint64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry struct {
	pixmap *document.Pixmap
	cost   int64
	stamp  atomic.Uint64
	// refs counts outstanding leases; pinned entries are never evicted
	refs atomic.Int32
}

// Lease pins a cache entry until released. A pinned entry survives eviction but not
// InvalidateDocument; the pixmap itself stays readable either way.
type Lease struct {
	entry    *entry
	released atomic.Bool
}

// Pixmap returns the leased render
func (l *Lease) Pixmap() *document.Pixmap {
	return l.entry.pixmap
}

// Share returns a second lease on the same entry
func (l *Lease) Share() *Lease {
	l.entry.refs.Add(1)
	return &Lease{entry: l.entry}
}

// Release unpins the entry. Calling it more than once is harmless.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.entry.refs.Add(-1)
	}
}

// New creates a cache holding at most capacity bytes of pixmaps
func New(capacity int64) *Cache {
	return &Cache{
		entries:  make(map[document.RenderRequest]*entry),
		byDoc:    make(map[ulid.ULID]map[document.RenderRequest]*entry),
		capacity: capacity,
	}
}

func (c *Cache) touch(e *entry) {
	e.stamp.Store(c.clock.Add(1))
}

// Get returns the pixmap cached for req. Keys compare exactly, so req must be normalized.
func (c *Cache) Get(req document.RenderRequest) (*document.Pixmap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[req]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.touch(e)
	return e.pixmap, true
}

// Acquire is Get with the entry pinned until the lease is released
func (c *Cache) Acquire(req document.RenderRequest) (*Lease, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[req]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.touch(e)
	e.refs.Add(1)
	return &Lease{entry: e}, true
}

// Put inserts or replaces the pixmap for req, evicting least recently used unpinned entries
// while over capacity. An unpinned pixmap that does not fit even in an otherwise empty cache is
// not retained.
func (c *Cache) Put(req document.RenderRequest, px *document.Pixmap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(req, px, false)
}

// PutAcquire inserts like Put and returns a lease on the new entry. The pinned entry is always
// admitted, exceeding capacity if nothing else can be evicted.
func (c *Cache) PutAcquire(req document.RenderRequest, px *document.Pixmap) *Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Lease{entry: c.insertLocked(req, px, true)}
}

func (c *Cache) insertLocked(req document.RenderRequest, px *document.Pixmap, pin bool) *entry {
	if old, ok := c.entries[req]; ok {
		c.removeLocked(req, old)
	}
	e := &entry{pixmap: px, cost: px.Cost()}
	if pin {
		e.refs.Store(1)
	}
	c.touch(e)
	c.entries[req] = e
	docEntries, ok := c.byDoc[req.Document]
	if !ok {
		docEntries = make(map[document.RenderRequest]*entry)
		c.byDoc[req.Document] = docEntries
	}
	docEntries[req] = e
	c.cost += e.cost

	c.evictLocked(e)
	if c.cost > c.capacity {
		if e.refs.Load() == 0 {
			c.removeLocked(req, e)
			c.evictions.Add(1)
			Logger.Debug("Pixmap larger than cache capacity not retained", "request", req, "cost", e.cost, "capacity", c.capacity)
		} else {
			Logger.Debug("Cache over capacity holding pinned pixmaps", "cost", c.cost, "capacity", c.capacity)
		}
	}
	return e
}

// evictLocked drops the least recently used unpinned entries, never keep, until within capacity
func (c *Cache) evictLocked(keep *entry) {
	for c.cost > c.capacity {
		var victimKey document.RenderRequest
		var victim *entry
		for key, e := range c.entries {
			if e == keep || e.refs.Load() > 0 {
				continue
			}
			if victim == nil || e.stamp.Load() < victim.stamp.Load() {
				victimKey, victim = key, e
			}
		}
		if victim == nil {
			return
		}
		c.removeLocked(victimKey, victim)
		c.evictions.Add(1)
		Logger.Debug("Evicted pixmap", "request", victimKey, "cost", victim.cost)
	}
}

func (c *Cache) removeLocked(req document.RenderRequest, e *entry) {
	delete(c.entries, req)
	if docEntries, ok := c.byDoc[req.Document]; ok {
		delete(docEntries, req)
		if len(docEntries) == 0 {
			delete(c.byDoc, req.Document)
		}
	}
	c.cost -= e.cost
}

// InvalidateDocument removes every entry rendered from doc and returns how many were removed
func (c *Cache) InvalidateDocument(doc ulid.ULID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	docEntries := c.byDoc[doc]
	n := len(docEntries)
	for req, e := range docEntries {
		c.removeLocked(req, e)
	}
	if n > 0 {
		Logger.Debug("Invalidated document pixmaps", "document", doc, "entries", n)
	}
	return n
}

// SetCapacity changes the capacity, evicting immediately if the cache is now over it
func (c *Cache) SetCapacity(capacity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evictLocked(nil)
}

// Len is the number of cached pixmaps
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Cost is the total cost of cached pixmaps in bytes
func (c *Cache) Cost() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cost
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   int64(len(c.entries)),
		Cost:      c.cost,
		Capacity:  c.capacity,
	}
}
