package pagecache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pagecache/blobstore"
	"github.com/hupe1980/pagecache/cache"
	"github.com/hupe1980/pagecache/resource"
)

// ReadThroughStore is a BlobStore that serves reads through a page cache.
//
// Reads are split into page-aligned pieces, the pieces are looked up in the
// cache concurrently, and all missing pages are fetched from the inner store
// in one GetRanges call. Fetched pages are written back to the cache before
// the read returns, under the location identity resolved when the read
// started, so a read that overlaps a write never repopulates the new object
// with old bytes.
//
// Writes are never cached. Every write invalidates the destination before
// and after it goes to the inner store.
type ReadThroughStore struct {
	inner    blobstore.BlobStore
	cache    cache.PageCache
	pageSize int64
	opts     options
}

var _ blobstore.BlobStore = (*ReadThroughStore)(nil)

// NewReadThroughStore wraps inner with c.
func NewReadThroughStore(inner blobstore.BlobStore, c cache.PageCache, optFns ...Option) *ReadThroughStore {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.resources == nil && opts.ioLimit > 0 {
		opts.resources = resource.NewController(resource.Config{IOLimitBytesPerSec: opts.ioLimit})
	}

	return &ReadThroughStore{
		inner:    inner,
		cache:    c,
		pageSize: c.PageSize(),
		opts:     opts,
	}
}

// Inner returns the wrapped store.
func (s *ReadThroughStore) Inner() blobstore.BlobStore { return s.inner }

// Cache returns the page cache.
func (s *ReadThroughStore) Cache() cache.PageCache { return s.cache }

// pageRead is one page-aligned piece of a read.
type pageRead struct {
	page uint64
	// want is the absolute byte range of the read inside this page.
	want blobstore.Range
	data []byte
	hit  bool
}

// GetRange returns the bytes of r. A range ending past the object returns
// the available bytes; a range starting at or past the end returns no bytes.
func (s *ReadThroughStore) GetRange(ctx context.Context, name string, r blobstore.Range) ([]byte, error) {
	start := time.Now()
	data, hits, misses, err := s.getRange(ctx, name, r)
	err = translateError(err)

	s.opts.metricsCollector.RecordGetRange(len(data), hits, misses, time.Since(start), err)
	s.opts.logger.LogGetRange(ctx, name, r.Start, r.End, hits, misses, err)
	return data, err
}

func (s *ReadThroughStore) getRange(ctx context.Context, name string, r blobstore.Range) ([]byte, int, int, error) {
	if r.Start < 0 || r.End < r.Start {
		return nil, 0, 0, fmt.Errorf("%w: %s", blobstore.ErrInvalidRange, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, 0, err
	}

	id := s.cache.Resolve(name)

	meta, err := s.head(ctx, name)
	if err != nil {
		return nil, 0, 0, err
	}

	want := blobstore.Range{Start: r.Start, End: min(r.End, meta.Size)}
	if want.Empty() {
		return []byte{}, 0, 0, nil
	}

	pages, err := s.lookup(ctx, name, id, want)
	if err != nil {
		return nil, 0, 0, err
	}

	var (
		missed []int
		ranges []blobstore.Range
	)
	for i, p := range pages {
		if !p.hit {
			missed = append(missed, i)
			ranges = append(ranges, s.pageRange(p.page, meta.Size))
		}
	}

	var fetched [][]byte
	if len(ranges) > 0 {
		fetched, err = s.fetch(ctx, name, ranges)
		if err != nil {
			return nil, 0, 0, err
		}
		for j, i := range missed {
			off := int64(pages[i].page) * s.pageSize
			page := fetched[j]
			lo := min(pages[i].want.Start-off, int64(len(page)))
			hi := min(pages[i].want.End-off, int64(len(page)))
			pages[i].data = page[lo:hi]
		}
	}

	out := make([]byte, 0, want.Len())
	for _, p := range pages {
		out = append(out, p.data...)
	}

	for j, i := range missed {
		page := fetched[j]
		if cap(page) > len(page) {
			// Do not pin a larger coalesced buffer in the cache.
			page = append([]byte(nil), page...)
		}
		if err := s.cache.PutAt(ctx, id, pages[i].page, page); err != nil {
			s.opts.logger.LogBackfillFailure(ctx, name, pages[i].page, len(page), err)
		}
	}

	return out, len(pages) - len(missed), len(missed), nil
}

// lookup peeks the cache for every page overlapping want, at most
// parallelism pages at a time. The result is in page order. Pages that fail
// to decode count as misses.
func (s *ReadThroughStore) lookup(ctx context.Context, name string, id cache.LocationID, want blobstore.Range) ([]pageRead, error) {
	first := want.Start / s.pageSize
	last := (want.End - 1) / s.pageSize
	pages := make([]pageRead, last-first+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.parallelism)

	for i := range pages {
		page := uint64(first) + uint64(i)
		off := int64(page) * s.pageSize
		pages[i] = pageRead{
			page: page,
			want: blobstore.Range{Start: off, End: off + s.pageSize}.Intersect(want),
		}

		g.Go(func() error {
			data, ok, err := s.cache.GetRangeAt(gctx, id, page, pages[i].want.Shift(off))
			if errors.Is(err, cache.ErrCorruptPage) {
				s.opts.logger.LogCorruptPage(gctx, name, page, err)
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				pages[i].data = data
				pages[i].hit = true
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// fetch reads whole pages from the inner store in one request.
func (s *ReadThroughStore) fetch(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	rc := s.opts.resources
	if err := rc.AcquireFetch(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseFetch()

	var total int64
	for _, r := range ranges {
		total += r.Len()
	}
	if err := rc.AcquireIO(ctx, total); err != nil {
		return nil, err
	}

	fetched, err := s.inner.GetRanges(ctx, name, ranges)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(ranges) {
		return nil, fmt.Errorf("inner store returned %d ranges, want %d", len(fetched), len(ranges))
	}
	return fetched, nil
}

func (s *ReadThroughStore) pageRange(page uint64, size int64) blobstore.Range {
	off := int64(page) * s.pageSize
	return blobstore.Range{Start: off, End: min(off+s.pageSize, size)}
}

// GetRanges resolves each range concurrently. Results are in input order.
func (s *ReadThroughStore) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	out := make([][]byte, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.parallelism)

	for i, r := range ranges {
		g.Go(func() error {
			data, err := s.GetRange(gctx, name, r)
			if err != nil {
				return err
			}
			out[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the whole object. The payload is produced page by page through
// the cache as it is consumed; every range-over starts again at offset 0.
func (s *ReadThroughStore) Get(ctx context.Context, name string) (*blobstore.GetResult, error) {
	meta, err := s.Head(ctx, name)
	if err != nil {
		return nil, err
	}

	return &blobstore.GetResult{
		Meta:    meta,
		Range:   blobstore.Range{Start: 0, End: meta.Size},
		Payload: s.pages(ctx, name, meta.Size),
	}, nil
}

func (s *ReadThroughStore) pages(ctx context.Context, name string, size int64) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for off := int64(0); off < size; off += s.pageSize {
			data, err := s.GetRange(ctx, name, blobstore.Range{Start: off, End: min(off+s.pageSize, size)})
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(data, nil) {
				return
			}
		}
	}
}

// Head returns object metadata from the cache, loading it on a miss.
func (s *ReadThroughStore) Head(ctx context.Context, name string) (blobstore.ObjectMeta, error) {
	start := time.Now()
	meta, err := s.head(ctx, name)
	err = translateError(err)

	s.opts.metricsCollector.RecordHead(time.Since(start), err)
	s.opts.logger.LogHead(ctx, name, meta.Size, err)
	return meta, err
}

func (s *ReadThroughStore) head(ctx context.Context, name string) (blobstore.ObjectMeta, error) {
	return s.cache.Head(ctx, name, func(ctx context.Context) (blobstore.ObjectMeta, error) {
		return s.inner.Head(ctx, name)
	})
}

func (s *ReadThroughStore) invalidate(ctx context.Context, name, op string) error {
	start := time.Now()
	err := s.cache.Invalidate(ctx, name)

	s.opts.metricsCollector.RecordInvalidate(time.Since(start), err)
	s.opts.logger.LogInvalidate(ctx, name, op, err)
	return err
}

// write invalidates name around fn. The second invalidation orphans pages
// back-filled by reads that started while fn was in flight.
func (s *ReadThroughStore) write(ctx context.Context, name, op string, fn func() error) error {
	if err := s.invalidate(ctx, name, op); err != nil {
		return err
	}
	err := fn()
	if ierr := s.invalidate(ctx, name, op); err == nil {
		err = ierr
	}
	return translateError(err)
}

// Put invalidates name and writes it to the inner store.
func (s *ReadThroughStore) Put(ctx context.Context, name string, data []byte) (blobstore.PutResult, error) {
	var res blobstore.PutResult
	err := s.write(ctx, name, "put", func() (err error) {
		res, err = s.inner.Put(ctx, name, data)
		return err
	})
	return res, err
}

// Create invalidates name and opens a streaming writer on the inner store.
// The writer invalidates name again when it is closed.
func (s *ReadThroughStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := s.invalidate(ctx, name, "create"); err != nil {
		return nil, err
	}
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, translateError(err)
	}
	return &invalidatingWriter{WritableBlob: w, store: s, ctx: ctx, name: name}, nil
}

// Delete invalidates name and removes it from the inner store.
func (s *ReadThroughStore) Delete(ctx context.Context, name string) error {
	return s.write(ctx, name, "delete", func() error {
		return s.inner.Delete(ctx, name)
	})
}

// Copy invalidates the destination and copies on the inner store.
func (s *ReadThroughStore) Copy(ctx context.Context, from, to string) error {
	return s.write(ctx, to, "copy", func() error {
		return s.inner.Copy(ctx, from, to)
	})
}

// CopyIfNotExists invalidates the destination and copies on the inner store
// unless the destination exists.
func (s *ReadThroughStore) CopyIfNotExists(ctx context.Context, from, to string) error {
	return s.write(ctx, to, "copy_if_not_exists", func() error {
		return s.inner.CopyIfNotExists(ctx, from, to)
	})
}

// List lists the inner store. Listings are not cached.
func (s *ReadThroughStore) List(ctx context.Context, prefix string) iter.Seq2[blobstore.ObjectMeta, error] {
	return s.inner.List(ctx, prefix)
}

// ListWithDelimiter lists one level of the inner store. Listings are not cached.
func (s *ReadThroughStore) ListWithDelimiter(ctx context.Context, prefix string) (blobstore.ListResult, error) {
	res, err := s.inner.ListWithDelimiter(ctx, prefix)
	return res, translateError(err)
}

// invalidatingWriter invalidates its object again once the upload commits,
// so reads issued while the upload was in flight do not outlive it.
type invalidatingWriter struct {
	blobstore.WritableBlob
	store *ReadThroughStore
	ctx   context.Context
	name  string
}

func (w *invalidatingWriter) Close() error {
	err := w.WritableBlob.Close()
	if ierr := w.store.invalidate(w.ctx, w.name, "create"); err == nil {
		err = ierr
	}
	return translateError(err)
}
