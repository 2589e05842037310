package pagecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/pagecache/blobstore"
	"github.com/hupe1980/pagecache/cache"
	"github.com/hupe1980/pagecache/testutil"
)

// gatedStore runs a one-shot hook after a GetRanges read or before a Put commits.
type gatedStore struct {
	*blobstore.MemoryStore
	afterFetch atomic.Pointer[func()]
	beforePut  atomic.Pointer[func()]
}

func (s *gatedStore) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	out, err := s.MemoryStore.GetRanges(ctx, name, ranges)
	if hook := s.afterFetch.Swap(nil); hook != nil {
		(*hook)()
	}
	return out, err
}

func (s *gatedStore) Put(ctx context.Context, name string, data []byte) (blobstore.PutResult, error) {
	if hook := s.beforePut.Swap(nil); hook != nil {
		(*hook)()
	}
	return s.MemoryStore.Put(ctx, name, data)
}

func TestReadThroughStore_ReadOverlappingWrite(t *testing.T) {
	all := blobstore.Range{Start: 0, End: 8}

	setup := func(t *testing.T) (*ReadThroughStore, *gatedStore) {
		inner := &gatedStore{MemoryStore: blobstore.NewMemoryStore()}
		put(t, inner, "obj", []byte("AAAAAAAA"))
		c, err := cache.New(1<<20, 8)
		require.NoError(t, err)
		return NewReadThroughStore(inner, c), inner
	}

	t.Run("fetch completes before write", func(t *testing.T) {
		s, inner := setup(t)
		ctx := t.Context()

		fetched := make(chan struct{})
		release := make(chan struct{})
		hook := func() {
			close(fetched)
			<-release
		}
		inner.afterFetch.Store(&hook)

		type result struct {
			data []byte
			err  error
		}
		done := make(chan result, 1)
		go func() {
			data, err := s.GetRange(ctx, "obj", all)
			done <- result{data, err}
		}()

		<-fetched
		put(t, s, "obj", []byte("BBBBBBBB"))
		close(release)

		res := <-done
		require.NoError(t, res.err)
		assert.Equal(t, "AAAAAAAA", string(res.data))

		got, err := s.GetRange(ctx, "obj", all)
		require.NoError(t, err)
		assert.Equal(t, "BBBBBBBB", string(got))
	})

	t.Run("read during write", func(t *testing.T) {
		s, inner := setup(t)
		ctx := t.Context()

		writing := make(chan struct{})
		release := make(chan struct{})
		hook := func() {
			close(writing)
			<-release
		}
		inner.beforePut.Store(&hook)

		errc := make(chan error, 1)
		go func() {
			_, err := s.Put(ctx, "obj", []byte("BBBBBBBB"))
			errc <- err
		}()

		<-writing
		got, err := s.GetRange(ctx, "obj", all)
		require.NoError(t, err)
		assert.Equal(t, "AAAAAAAA", string(got))

		close(release)
		require.NoError(t, <-errc)

		got, err = s.GetRange(ctx, "obj", all)
		require.NoError(t, err)
		assert.Equal(t, "BBBBBBBB", string(got))
	})
}

// jitterStore resolves every range of a GetRanges call on its own goroutine
// after a random delay, so fetches complete in arbitrary order.
type jitterStore struct {
	blobstore.BlobStore
	rng *testutil.RNG
}

func (s jitterStore) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	out := make([][]byte, len(ranges))
	errs := make([]error, len(ranges))

	var wg sync.WaitGroup
	for i, r := range ranges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(s.rng.Intn(500)) * time.Microsecond)
			out[i], errs[i] = s.BlobStore.GetRange(ctx, name, r)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func TestReadThroughStore_ConcurrentReaders(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int64
		pageSize    int64
		shards      int
		compression cache.Compression
	}{
		{name: "resident", capacity: 1 << 20, pageSize: 64, shards: 1},
		{name: "evicting", capacity: 2048, pageSize: 64, shards: 1},
		{name: "sharded", capacity: 1 << 20, pageSize: 128, shards: 4},
		{name: "compressed", capacity: 1 << 20, pageSize: 256, shards: 2, compression: cache.CompressionZSTD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := cache.NewBuilder(tt.capacity).
				PageSize(tt.pageSize).
				Shards(tt.shards).
				Compression(tt.compression).
				Build()
			require.NoError(t, err)

			inner := jitterStore{BlobStore: blobstore.NewMemoryStore(), rng: testutil.NewRNG(1)}
			data := testutil.SequentialObject(2000)
			size := int64(len(data))
			put(t, inner, "seq", data)

			s := NewReadThroughStore(inner, c, WithParallelism(4))

			g, ctx := errgroup.WithContext(t.Context())
			for reader := range 8 {
				rng := testutil.NewRNG(int64(100 + reader))
				g.Go(func() error {
					for range 40 {
						ranges := []blobstore.Range{rng.Range(size + 64), rng.Range(size), rng.Range(size)}
						got, err := s.GetRanges(ctx, "seq", ranges)
						if err != nil {
							return err
						}
						for i, r := range ranges {
							if want := data[min(r.Start, size):min(r.End, size)]; !bytes.Equal(want, got[i]) {
								return fmt.Errorf("range %s: got %d bytes, want %d", r, len(got[i]), len(want))
							}
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())
		})
	}
}

func TestReadThroughStore_ConcurrentReadersAndWriter(t *testing.T) {
	const (
		size     = 256
		versions = 20
	)
	version := func(v int) []byte { return bytes.Repeat([]byte{byte(v)}, size) }

	c, err := cache.New(1<<20, 16)
	require.NoError(t, err)
	inner := jitterStore{BlobStore: blobstore.NewMemoryStore(), rng: testutil.NewRNG(2)}
	put(t, inner, "obj", version(0))
	s := NewReadThroughStore(inner, c)

	var written atomic.Int64
	g, ctx := errgroup.WithContext(t.Context())
	g.Go(func() error {
		for v := 1; v <= versions; v++ {
			if _, err := s.Put(ctx, "obj", version(v)); err != nil {
				return err
			}
			written.Store(int64(v))
		}
		return nil
	})
	for reader := range 4 {
		rng := testutil.NewRNG(int64(200 + reader))
		g.Go(func() error {
			for range 50 {
				r := rng.Range(size)
				got, err := s.GetRange(ctx, "obj", r)
				if err != nil {
					return err
				}
				if int64(len(got)) != r.Len() {
					return fmt.Errorf("range %s: got %d bytes", r, len(got))
				}
				for _, b := range got {
					if int64(b) > versions {
						return fmt.Errorf("range %s: unknown version %d", r, b)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, int64(versions), written.Load())

	got, err := s.GetRange(t.Context(), "obj", blobstore.Range{Start: 0, End: size})
	require.NoError(t, err)
	assert.Equal(t, version(versions), got)
}

// corruptingCache reports the next peek as a corrupt page.
type corruptingCache struct {
	*cache.InMemoryCache
	corrupt atomic.Bool
}

func (c *corruptingCache) GetRangeAt(ctx context.Context, id cache.LocationID, pageID uint64, r blobstore.Range) ([]byte, bool, error) {
	if c.corrupt.CompareAndSwap(true, false) {
		return nil, false, fmt.Errorf("page %d: %w", pageID, cache.ErrCorruptPage)
	}
	return c.InMemoryCache.GetRangeAt(ctx, id, pageID, r)
}

func TestReadThroughStore_CorruptPageRefetched(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	inner := testutil.NewCountingStore(blobstore.NewMemoryStore())
	data := testutil.SequentialObject(2)
	put(t, inner.BlobStore, "obj", data)

	mem, err := cache.New(1<<20, 8)
	require.NoError(t, err)
	c := &corruptingCache{InMemoryCache: mem}
	s := NewReadThroughStore(inner, c, WithLogger(logger), WithParallelism(1))
	ctx := t.Context()

	_, err = s.GetRange(ctx, "obj", blobstore.Range{Start: 0, End: 16})
	require.NoError(t, err)

	c.corrupt.Store(true)
	got, err := s.GetRange(ctx, "obj", blobstore.Range{Start: 0, End: 16})
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, 2, inner.Calls("GetRanges"))
	assert.Equal(t, [][]blobstore.Range{{{Start: 0, End: 8}, {Start: 8, End: 16}}, {{Start: 0, End: 8}}}, inner.GetRangesArgs())
	assert.Contains(t, buf.String(), "cached page corrupt")
}
