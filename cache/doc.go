// Package cache provides the page cache used by the read-through store.
//
// A PageCache holds fixed-size pages of objects keyed by (location, page id),
// where a page id is offset / PageSize(). The final page of an object may be
// shorter than PageSize. Object metadata is cached alongside the pages.
//
// # InMemoryCache
//
// InMemoryCache keeps pages in a weighted LRU whose weight is the resident
// byte length of each page, combined with a time-to-idle expiry. Concurrent
// misses on the same page share one load (singleflight); failed loads are
// never cached.
//
// Locations are interned to dense LocationIDs. Invalidate drops only the
// location's mapping, so the next access gets a fresh id and misses; pages
// stored under the old id age out of the store.
//
//	c, err := cache.NewBuilder(1 << 30).
//	    PageSize(1 << 20).
//	    Build()
//
//	page, err := c.GetWith(ctx, "data/blob", 3, func(ctx context.Context) ([]byte, error) {
//	    return store.GetRange(ctx, "data/blob", blobstore.Range{Start: 3 << 20, End: 4 << 20})
//	})
//
// # Compression
//
// Pages can be kept LZ4 or ZSTD encoded. Capacity is then accounted in
// encoded bytes and every hit pays a decode.
package cache
