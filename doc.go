// Package pagecache provides a read-through paging cache for object storage.
//
// A ReadThroughStore wraps any blobstore.BlobStore behind a cache.PageCache.
// Byte-range reads are split into fixed-size pages; resident pages are served
// from memory and all missing pages of one read are fetched from the backing
// store in a single GetRanges call, then written back to the cache.
//
// # Quick Start
//
//	ctx := context.Background()
//	inner, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("data/"))
//
//	c, _ := cache.NewBuilder(2 << 30). // 2 GiB of pages
//	    PageSize(1 << 20).
//	    Build()
//
//	store := pagecache.NewReadThroughStore(inner, c)
//	data, _ := store.GetRange(ctx, "table/part-0001", blobstore.Range{Start: 4096, End: 8192})
//
// # Reads
//
// A read of [start, end) is aligned down to the page containing start and
// clipped to the object size taken from cached metadata. Pages are looked up
// concurrently (WithParallelism, default runtime.NumCPU()), and the result is
// assembled in page order. Reads past the end of an object return the
// available bytes; reads starting at or past the end return no bytes.
//
// # Writes
//
// Put, Create, Delete, Copy and CopyIfNotExists invalidate the destination
// before delegating to the backing store. Written bytes are never cached.
//
// Invalidation forgets the location's identity rather than scanning pages.
// A read that resolved the location before the invalidation may still
// return pages of the previous version; those pages age out of the cache.
//
// # Observability
//
//	store := pagecache.NewReadThroughStore(inner, c,
//	    pagecache.WithLogger(pagecache.NewJSONLogger(slog.LevelDebug)),
//	    pagecache.WithMetricsCollector(&pagecache.BasicMetricsCollector{}),
//	)
package pagecache
