// Package blobstoretest provides a conformance suite for blobstore.BlobStore
// implementations.
package blobstoretest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/blobstore"
)

// Run exercises store. The store must be empty, or at least contain nothing
// below prefix.
func Run(t *testing.T, store blobstore.BlobStore, prefix string) {
	t.Helper()

	name := func(s string) string { return prefix + s }

	t.Run("PutHeadGet", func(t *testing.T) {
		ctx := t.Context()
		data := []byte("hello world, this is a test blob")

		res, err := store.Put(ctx, name("obj"), data)
		require.NoError(t, err)

		meta, err := store.Head(ctx, name("obj"))
		require.NoError(t, err)
		assert.Equal(t, name("obj"), meta.Location)
		assert.Equal(t, int64(len(data)), meta.Size)
		if res.ETag != "" {
			assert.Equal(t, res.ETag, meta.ETag)
		}

		got, err := store.Get(ctx, name("obj"))
		require.NoError(t, err)
		assert.Equal(t, blobstore.Range{Start: 0, End: int64(len(data))}, got.Range)
		for range 2 {
			b, err := got.Bytes()
			require.NoError(t, err)
			assert.Equal(t, data, b)
		}

		b, err := io.ReadAll(got.Reader())
		require.NoError(t, err)
		assert.Equal(t, data, b)
	})

	t.Run("Ranges", func(t *testing.T) {
		ctx := t.Context()
		data := []byte("0123456789abcdef")
		_, err := store.Put(ctx, name("ranges"), data)
		require.NoError(t, err)

		b, err := store.GetRange(ctx, name("ranges"), blobstore.Range{Start: 10, End: 16})
		require.NoError(t, err)
		assert.Equal(t, "abcdef", string(b))

		// Past the end: available bytes only.
		b, err = store.GetRange(ctx, name("ranges"), blobstore.Range{Start: 12, End: 100})
		require.NoError(t, err)
		assert.Equal(t, "cdef", string(b))

		parts, err := store.GetRanges(ctx, name("ranges"), []blobstore.Range{
			{Start: 8, End: 10},
			{Start: 0, End: 2},
			{Start: 14, End: 20},
		})
		require.NoError(t, err)
		require.Len(t, parts, 3)
		assert.Equal(t, "89", string(parts[0]))
		assert.Equal(t, "01", string(parts[1]))
		assert.Equal(t, "ef", string(parts[2]))

		_, err = store.GetRange(ctx, name("ranges"), blobstore.Range{Start: 5, End: 2})
		assert.ErrorIs(t, err, blobstore.ErrInvalidRange)
	})

	t.Run("NotFound", func(t *testing.T) {
		ctx := t.Context()

		_, err := store.Head(ctx, name("missing"))
		assert.True(t, blobstore.IsNotFound(err), "%v", err)

		_, err = store.GetRange(ctx, name("missing"), blobstore.Range{Start: 0, End: 1})
		assert.True(t, blobstore.IsNotFound(err), "%v", err)

		assert.NoError(t, store.Delete(ctx, name("missing")))
	})

	t.Run("CreateDelete", func(t *testing.T) {
		ctx := t.Context()

		w, err := store.Create(ctx, name("streamed"))
		require.NoError(t, err)
		for range 4 {
			_, err := w.Write(bytes.Repeat([]byte("x"), 1024))
			require.NoError(t, err)
		}
		require.NoError(t, w.Sync())
		require.NoError(t, w.Close())

		meta, err := store.Head(ctx, name("streamed"))
		require.NoError(t, err)
		assert.Equal(t, int64(4096), meta.Size)

		require.NoError(t, store.Delete(ctx, name("streamed")))
		_, err = store.Head(ctx, name("streamed"))
		assert.True(t, blobstore.IsNotFound(err))
	})

	t.Run("Copy", func(t *testing.T) {
		ctx := t.Context()
		_, err := store.Put(ctx, name("copy/src"), []byte("source"))
		require.NoError(t, err)

		require.NoError(t, store.Copy(ctx, name("copy/src"), name("copy/dst")))
		b, err := store.GetRange(ctx, name("copy/dst"), blobstore.Range{Start: 0, End: 6})
		require.NoError(t, err)
		assert.Equal(t, "source", string(b))

		err = store.CopyIfNotExists(ctx, name("copy/src"), name("copy/once"))
		if errors.Is(err, blobstore.ErrNotSupported) {
			t.Skip("CopyIfNotExists not supported")
		}
		require.NoError(t, err)

		err = store.CopyIfNotExists(ctx, name("copy/src"), name("copy/once"))
		assert.ErrorIs(t, err, blobstore.ErrAlreadyExists)
	})

	t.Run("List", func(t *testing.T) {
		ctx := t.Context()
		for _, n := range []string{"list/a", "list/b", "list/sub/c", "list/sub/deeper/d"} {
			_, err := store.Put(ctx, name(n), []byte(n))
			require.NoError(t, err)
		}

		var names []string
		for meta, err := range store.List(ctx, name("list/")) {
			require.NoError(t, err)
			names = append(names, meta.Location)
		}
		assert.Equal(t, []string{
			name("list/a"), name("list/b"), name("list/sub/c"), name("list/sub/deeper/d"),
		}, names)

		res, err := store.ListWithDelimiter(ctx, name("list"))
		require.NoError(t, err)
		assert.Equal(t, []string{name("list/sub")}, res.CommonPrefixes)

		var objects []string
		for _, o := range res.Objects {
			objects = append(objects, o.Location)
		}
		assert.Equal(t, []string{name("list/a"), name("list/b")}, objects)
	})
}
