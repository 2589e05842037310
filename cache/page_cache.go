package cache

import (
	"context"
	"errors"

	"github.com/hupe1980/pagecache/blobstore"
)

var (
	// ErrPageTooLarge is returned when a page payload exceeds the page size.
	ErrPageTooLarge = errors.New("page exceeds page size")
	// ErrInvalidConfig is returned by Build for unusable settings.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Loader fetches a page on a cache miss.
type Loader func(ctx context.Context) ([]byte, error)

// MetaLoader fetches object metadata on a cache miss.
type MetaLoader func(ctx context.Context) (blobstore.ObjectMeta, error)

// PageCache caches fixed-size pages of objects, keyed by (location, page id),
// plus object metadata.
//
// Returned slices are shared between callers and must be treated as read-only.
type PageCache interface {
	// PageSize returns the size of every page except possibly the last page of an object.
	PageSize() int64

	// Capacity returns the cache capacity in bytes.
	Capacity() int64

	// GetWith returns the cached page, running load on a miss. Concurrent
	// misses on the same page share one load and observe the same result or
	// failure. A caller whose ctx ends returns early; the shared load still
	// runs to completion for the other waiters.
	GetWith(ctx context.Context, location string, pageID uint64, load Loader) ([]byte, error)

	// GetRangeWith is GetWith sliced to r, which is relative to the page and
	// must satisfy 0 <= r.Start <= r.End <= PageSize().
	GetRangeWith(ctx context.Context, location string, pageID uint64, r blobstore.Range, load Loader) ([]byte, error)

	// Get peeks at a page without loading it. A resident page that fails to
	// decode is dropped and reported as absent with ErrCorruptPage.
	Get(ctx context.Context, location string, pageID uint64) ([]byte, bool, error)

	// GetRange peeks at part of a page without loading it. A range beyond
	// the resident bytes of a short page reports absence.
	GetRange(ctx context.Context, location string, pageID uint64, r blobstore.Range) ([]byte, bool, error)

	// Put inserts or replaces a page. len(data) must not exceed PageSize().
	Put(ctx context.Context, location string, pageID uint64, data []byte) error

	// Resolve returns the current identity of location, interning it if
	// needed. Pages read and written through the returned id stay bound to
	// that identity: after Invalidate they are unreachable by name.
	Resolve(location string) LocationID

	// GetRangeAt is GetRange for a resolved location.
	GetRangeAt(ctx context.Context, id LocationID, pageID uint64, r blobstore.Range) ([]byte, bool, error)

	// PutAt is Put for a resolved location.
	PutAt(ctx context.Context, id LocationID, pageID uint64, data []byte) error

	// Head returns cached metadata, running load on a miss with the same
	// coalescing and cancellation behavior as GetWith. Failed loads are not
	// cached.
	Head(ctx context.Context, location string, load MetaLoader) (blobstore.ObjectMeta, error)

	// Invalidate drops the cached state reachable for location. It may be
	// eventually consistent: readers that already resolved the location can
	// still observe previously cached pages until they age out.
	Invalidate(ctx context.Context, location string) error
}

// LocationID is the dense integer interned for a location.
type LocationID uint64

// PageKey identifies one cached page.
type PageKey struct {
	Location LocationID
	Page     uint64
}

// checkPageRange validates a page-relative range.
func checkPageRange(r blobstore.Range, pageSize int64) error {
	if r.Start < 0 || r.Start > r.End || r.End > pageSize {
		return &blobstore.Error{
			Kind:  blobstore.KindGeneric,
			Store: storeName,
			Err:   errors.Join(blobstore.ErrInvalidRange, errors.New("range "+r.String()+" outside page")),
		}
	}
	return nil
}
