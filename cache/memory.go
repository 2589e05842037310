package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/pagecache/blobstore"
	"github.com/hupe1980/pagecache/internal/lru"
)

const storeName = "InMemoryCache"

// DefaultMetadataCapacity is the default number of cached metadata entries.
const DefaultMetadataCapacity = 100_000

// InMemoryCache is a PageCache keeping pages in a weighted LRU with
// time-to-idle expiry. Object metadata lives in a second store with its own
// budget.
//
// Use NewBuilder or New to create one. It is safe for concurrent use.
type InMemoryCache struct {
	pageSize    int64
	capacity    int64
	compression Compression

	locations *locationTable
	pages     *lru.Sharded[PageKey, []byte]
	metadata  *lru.LRU[LocationID, blobstore.ObjectMeta]
	resident  *residency

	pageFlight singleflight.Group
	metaFlight singleflight.Group

	loads        atomic.Int64
	loadFailures atomic.Int64
}

var _ PageCache = (*InMemoryCache)(nil)

// Stats is a snapshot of cache statistics.
type Stats struct {
	Hits              int64
	Misses            int64
	Loads             int64
	LoadFailures      int64
	Evictions         int64
	Entries           int
	WeightedSize      int64
	MetadataEntries   int
	Locations         int
	ResidentLocations int
}

func newInMemoryCache(b *InMemoryCacheBuilder) *InMemoryCache {
	c := &InMemoryCache{
		pageSize:    b.pageSize,
		capacity:    b.capacity,
		compression: b.compression,
		locations:   newLocationTable(),
		resident:    newResidency(),
	}

	c.pages = lru.NewSharded(b.shards, lru.Config[PageKey, []byte]{
		Capacity:   b.capacity,
		TimeToIdle: b.timeToIdle,
		Weigher:    func(_ PageKey, v []byte) int64 { return int64(len(v)) },
		OnEvict: func(k PageKey, _ []byte, reason lru.EvictionReason) {
			if reason != lru.Replaced {
				c.resident.remove(k)
			}
		},
		Resources: b.resources,
		Clock:     b.clock,
	}, hashPageKey)

	c.metadata = lru.New(lru.Config[LocationID, blobstore.ObjectMeta]{
		Capacity:   b.metadataCapacity,
		TimeToIdle: b.metadataTimeToIdle,
		Clock:      b.clock,
	})

	return c
}

func hashPageKey(k PageKey) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(k.Location))
	binary.LittleEndian.PutUint64(buf[8:16], k.Page)
	return xxhash.Sum64(buf[:])
}

// PageSize returns the page size in bytes.
func (c *InMemoryCache) PageSize() int64 { return c.pageSize }

// Capacity returns the page store capacity in bytes.
func (c *InMemoryCache) Capacity() int64 { return c.capacity }

// Compression returns the codec used for resident pages.
func (c *InMemoryCache) Compression() Compression { return c.compression }

// GetWith returns the page, loading it on a miss. A resident page that fails
// to decode is reloaded.
//
// The load runs detached from ctx: a caller whose ctx ends gets ctx.Err()
// while the load finishes in the background and serves the other waiters.
func (c *InMemoryCache) GetWith(ctx context.Context, location string, pageID uint64, load Loader) ([]byte, error) {
	key := PageKey{Location: c.locations.intern(location), Page: pageID}

	if data, ok, _ := c.lookup(key); ok {
		return data, nil
	}

	flightKey := "p:" + strconv.FormatUint(uint64(key.Location), 10) + ":" + strconv.FormatUint(pageID, 10)
	ch := c.pageFlight.DoChan(flightKey, func() (any, error) {
		// A flight that finished just before this one began has already
		// populated the store.
		if data, ok, _ := c.lookup(key); ok {
			return data, nil
		}

		c.loads.Add(1)
		data, err := load(context.WithoutCancel(ctx))
		if err != nil {
			c.loadFailures.Add(1)
			return nil, err
		}
		if int64(len(data)) > c.pageSize {
			c.loadFailures.Add(1)
			return nil, fmt.Errorf("%w: loaded %d bytes, page size %d", ErrPageTooLarge, len(data), c.pageSize)
		}
		c.admit(key, data)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, c.classify(location, res.Err)
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRangeWith returns part of the page, loading it on a miss. A range past
// the end of a short page is clipped to the page.
func (c *InMemoryCache) GetRangeWith(ctx context.Context, location string, pageID uint64, r blobstore.Range, load Loader) ([]byte, error) {
	if err := checkPageRange(r, c.pageSize); err != nil {
		return nil, err
	}
	data, err := c.GetWith(ctx, location, pageID, load)
	if err != nil {
		return nil, err
	}
	return data[min(r.Start, int64(len(data))):min(r.End, int64(len(data)))], nil
}

// Get peeks at a page.
func (c *InMemoryCache) Get(_ context.Context, location string, pageID uint64) ([]byte, bool, error) {
	id, ok := c.locations.lookup(location)
	if !ok {
		return nil, false, nil
	}
	data, ok, err := c.lookup(PageKey{Location: id, Page: pageID})
	return data, ok, c.classify(location, err)
}

// GetRange peeks at part of a page.
func (c *InMemoryCache) GetRange(ctx context.Context, location string, pageID uint64, r blobstore.Range) ([]byte, bool, error) {
	if err := checkPageRange(r, c.pageSize); err != nil {
		return nil, false, err
	}
	id, ok := c.locations.lookup(location)
	if !ok {
		return nil, false, nil
	}
	return c.getRange(location, PageKey{Location: id, Page: pageID}, r)
}

// Resolve returns the identity location is currently interned under.
func (c *InMemoryCache) Resolve(location string) LocationID {
	return c.locations.intern(location)
}

// GetRangeAt peeks at part of a page of a resolved location.
func (c *InMemoryCache) GetRangeAt(_ context.Context, id LocationID, pageID uint64, r blobstore.Range) ([]byte, bool, error) {
	if err := checkPageRange(r, c.pageSize); err != nil {
		return nil, false, err
	}
	return c.getRange("", PageKey{Location: id, Page: pageID}, r)
}

func (c *InMemoryCache) getRange(location string, key PageKey, r blobstore.Range) ([]byte, bool, error) {
	data, ok, err := c.lookup(key)
	if !ok || err != nil {
		return nil, false, c.classify(location, err)
	}
	if r.End > int64(len(data)) {
		return nil, false, nil
	}
	return data[r.Start:r.End], true, nil
}

// Put inserts or replaces a page. The cache keeps data; callers must not
// modify it afterwards.
func (c *InMemoryCache) Put(_ context.Context, location string, pageID uint64, data []byte) error {
	if err := c.checkPageSize(location, data); err != nil {
		return err
	}
	c.admit(PageKey{Location: c.locations.intern(location), Page: pageID}, data)
	return nil
}

// PutAt inserts or replaces a page of a resolved location. If the location
// was invalidated since it was resolved, the page lands on the old identity
// and is never served by name.
func (c *InMemoryCache) PutAt(_ context.Context, id LocationID, pageID uint64, data []byte) error {
	if err := c.checkPageSize("", data); err != nil {
		return err
	}
	c.admit(PageKey{Location: id, Page: pageID}, data)
	return nil
}

func (c *InMemoryCache) checkPageSize(location string, data []byte) error {
	if int64(len(data)) > c.pageSize {
		return &blobstore.Error{
			Kind:  blobstore.KindGeneric,
			Store: storeName,
			Path:  location,
			Err:   fmt.Errorf("%w: %d bytes, page size %d", ErrPageTooLarge, len(data), c.pageSize),
		}
	}
	return nil
}

// Head returns object metadata, loading it on a miss. Cancellation behaves
// as in GetWith: the load is shared and outlives a caller whose ctx ends.
func (c *InMemoryCache) Head(ctx context.Context, location string, load MetaLoader) (blobstore.ObjectMeta, error) {
	id := c.locations.intern(location)

	if meta, ok := c.metadata.Get(id); ok {
		return meta, nil
	}

	ch := c.metaFlight.DoChan("m:"+strconv.FormatUint(uint64(id), 10), func() (any, error) {
		if meta, ok := c.metadata.Get(id); ok {
			return meta, nil
		}

		c.loads.Add(1)
		meta, err := load(context.WithoutCancel(ctx))
		if err != nil {
			c.loadFailures.Add(1)
			return nil, err
		}
		c.metadata.Set(id, meta)
		return meta, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return blobstore.ObjectMeta{}, c.classify(location, res.Err)
		}
		return res.Val.(blobstore.ObjectMeta), nil
	case <-ctx.Done():
		return blobstore.ObjectMeta{}, ctx.Err()
	}
}

// Invalidate forgets the location. Pages cached under its previous identity
// are no longer reachable through the location and age out of the store;
// callers that resolved the location before the call may still observe them.
func (c *InMemoryCache) Invalidate(_ context.Context, location string) error {
	id, ok := c.locations.lookup(location)
	if !ok {
		return nil
	}
	c.locations.remove(location)
	c.metadata.Remove(id)
	return nil
}

// ResidentPages returns the page ids currently resident for location, in
// ascending order.
func (c *InMemoryCache) ResidentPages(location string) []uint64 {
	id, ok := c.locations.lookup(location)
	if !ok {
		return nil
	}
	return c.resident.snapshot(id)
}

// EntryCount returns the number of resident pages.
func (c *InMemoryCache) EntryCount() int { return c.pages.Len() }

// WeightedSize returns the total weight of resident pages in bytes.
func (c *InMemoryCache) WeightedSize() int64 { return c.pages.Size() }

// MetadataEntryCount returns the number of cached metadata entries.
func (c *InMemoryCache) MetadataEntryCount() int { return c.metadata.Len() }

// RunPendingTasks sweeps expired pages and metadata.
func (c *InMemoryCache) RunPendingTasks() {
	c.pages.RunPendingTasks()
	c.metadata.RunPendingTasks()
}

// ShardStats returns per-shard occupancy of the page store.
func (c *InMemoryCache) ShardStats() []lru.ShardStats {
	return c.pages.ShardStats()
}

// Stats returns a snapshot of cache statistics.
func (c *InMemoryCache) Stats() Stats {
	hits, misses, evictions := c.pages.Stats()
	return Stats{
		Hits:              hits,
		Misses:            misses,
		Loads:             c.loads.Load(),
		LoadFailures:      c.loadFailures.Load(),
		Evictions:         evictions,
		Entries:           c.pages.Len(),
		WeightedSize:      c.pages.Size(),
		MetadataEntries:   c.metadata.Len(),
		Locations:         c.locations.len(),
		ResidentLocations: c.resident.locations(),
	}
}

// lookup returns the decoded resident page. A page that fails to decode is
// removed and reported as absent with ErrCorruptPage.
func (c *InMemoryCache) lookup(key PageKey) ([]byte, bool, error) {
	encoded, ok := c.pages.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, err := c.compression.decode(encoded)
	if err != nil {
		c.pages.Remove(key)
		return nil, false, fmt.Errorf("page %d: %w", key.Page, err)
	}
	return data, true, nil
}

func (c *InMemoryCache) admit(key PageKey, data []byte) {
	if c.pages.Set(key, c.compression.encode(data)) {
		c.resident.add(key)
	} else {
		c.resident.remove(key)
	}
}

func (c *InMemoryCache) classify(location string, err error) error {
	if err == nil {
		return nil
	}
	var classified *blobstore.Error
	if errors.As(err, &classified) {
		return err
	}
	return blobstore.Classify(storeName, location, err)
}
