package lru

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pagecache/resource"
)

// EvictionReason tells an eviction listener why an entry left the store.
type EvictionReason uint8

const (
	// Expired entries were idle longer than TimeToIdle.
	Expired EvictionReason = iota + 1
	// Size entries were evicted to stay within capacity.
	Size
	// Replaced entries were overwritten by Set.
	Replaced
	// Explicit entries were removed by Remove.
	Explicit
)

func (r EvictionReason) String() string {
	switch r {
	case Expired:
		return "expired"
	case Size:
		return "size"
	case Replaced:
		return "replaced"
	case Explicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Config configures an LRU.
type Config[K comparable, V any] struct {
	// Capacity is the maximum total weight.
	Capacity int64
	// TimeToIdle expires entries not read or written for this long. 0 disables expiry.
	TimeToIdle time.Duration
	// Weigher returns the weight of an entry. Defaults to 1 per entry.
	Weigher func(key K, value V) int64
	// OnEvict is called, outside the store lock, for every entry that leaves the store.
	OnEvict func(key K, value V, reason EvictionReason)
	// Resources, if set, is charged for the weight of resident entries.
	Resources *resource.Controller
	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// LRU is a weighted, capacity-bounded, time-to-idle store.
// It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	cfg       Config[K, V]
	size      int64
	items     map[K]*list.Element
	evictList *list.List // front = most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	weight     int64
	lastAccess time.Time
}

type evicted[K comparable, V any] struct {
	key    K
	value  V
	reason EvictionReason
}

// New creates a new LRU.
func New[K comparable, V any](cfg Config[K, V]) *LRU[K, V] {
	if cfg.Weigher == nil {
		cfg.Weigher = func(K, V) int64 { return 1 }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &LRU[K, V]{
		cfg:       cfg,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a resident, unexpired value and refreshes its recency.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return zero, false
	}

	now := c.cfg.Clock()
	ent := el.Value.(*entry[K, V])
	if c.expired(ent, now) {
		c.removeElement(el)
		c.mu.Unlock()
		c.misses.Add(1)
		c.notify([]evicted[K, V]{{ent.key, ent.value, Expired}})
		return zero, false
	}

	ent.lastAccess = now
	c.evictList.MoveToFront(el)
	c.mu.Unlock()

	c.hits.Add(1)
	return ent.value, true
}

// Set inserts or replaces a value. It reports whether the value was admitted:
// entries heavier than the whole capacity, or refused by the resource
// controller, are not cached.
func (c *LRU[K, V]) Set(key K, value V) bool {
	weight := c.cfg.Weigher(key, value)

	c.mu.Lock()
	var out []evicted[K, V]

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry[K, V])
		c.removeElement(el)
		out = append(out, evicted[K, V]{old.key, old.value, Replaced})
	}

	admitted := weight <= c.cfg.Capacity
	if admitted {
		// Evict to make space in local capacity first so memory is
		// returned to the controller before we try to acquire it back.
		now := c.cfg.Clock()
		out = c.evictExpired(now, out)
		for c.size+weight > c.cfg.Capacity && c.evictList.Len() > 0 {
			out = c.evictBack(Size, out)
		}

		if c.cfg.Resources.TryAcquireMemory(weight) {
			ent := &entry[K, V]{key: key, value: value, weight: weight, lastAccess: now}
			c.items[key] = c.evictList.PushFront(ent)
			c.size += weight
		} else {
			admitted = false
		}
	}
	c.mu.Unlock()

	c.notify(out)
	return admitted
}

// Remove deletes key and reports whether it was resident.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	ent := el.Value.(*entry[K, V])
	c.removeElement(el)
	c.mu.Unlock()

	c.notify([]evicted[K, V]{{ent.key, ent.value, Explicit}})
	return true
}

// RunPendingTasks sweeps expired entries.
func (c *LRU[K, V]) RunPendingTasks() {
	c.mu.Lock()
	out := c.evictExpired(c.cfg.Clock(), nil)
	c.mu.Unlock()

	c.notify(out)
}

// Len returns the number of resident entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the total weight of resident entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured capacity.
func (c *LRU[K, V]) Capacity() int64 {
	return c.cfg.Capacity
}

// Stats returns hit, miss and eviction counters.
func (c *LRU[K, V]) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (c *LRU[K, V]) expired(ent *entry[K, V], now time.Time) bool {
	return c.cfg.TimeToIdle > 0 && now.Sub(ent.lastAccess) >= c.cfg.TimeToIdle
}

// evictExpired drops expired entries from the cold end. The list is ordered
// by last access, so the sweep stops at the first live entry.
// Must hold lock.
func (c *LRU[K, V]) evictExpired(now time.Time, out []evicted[K, V]) []evicted[K, V] {
	if c.cfg.TimeToIdle <= 0 {
		return out
	}
	for {
		el := c.evictList.Back()
		if el == nil || !c.expired(el.Value.(*entry[K, V]), now) {
			return out
		}
		out = c.evictBack(Expired, out)
	}
}

// Must hold lock.
func (c *LRU[K, V]) evictBack(reason EvictionReason, out []evicted[K, V]) []evicted[K, V] {
	el := c.evictList.Back()
	if el == nil {
		return out
	}
	ent := el.Value.(*entry[K, V])
	c.removeElement(el)
	c.evictions.Add(1)
	return append(out, evicted[K, V]{ent.key, ent.value, reason})
}

// Must hold lock.
func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.weight
	c.cfg.Resources.ReleaseMemory(ent.weight)
}

func (c *LRU[K, V]) notify(out []evicted[K, V]) {
	if c.cfg.OnEvict == nil {
		return
	}
	for _, e := range out {
		c.cfg.OnEvict(e.key, e.value, e.reason)
	}
}
