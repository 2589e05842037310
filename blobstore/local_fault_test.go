package blobstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagecache/internal/fs"
)

func newFaultyLocalStore(t *testing.T) (*LocalStore, *fs.FaultyFS, string) {
	t.Helper()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)
	s := NewLocalStore(dir)
	s.fs = ffs
	return s, ffs, dir
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	require.NoError(t, filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasPrefix(filepath.Base(p), tempPrefix) {
			out = append(out, p)
		}
		return err
	}))
	return out
}

func TestLocalStore_SyncFailureKeepsOldObject(t *testing.T) {
	s, ffs, dir := newFaultyLocalStore(t)
	ctx := t.Context()

	_, err := s.Put(ctx, "obj", []byte("old"))
	require.NoError(t, err)

	ffs.AddRule(tempPrefix, fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	_, err = s.Put(ctx, "obj", []byte("new"))
	require.ErrorIs(t, err, fs.ErrInjected)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, KindGeneric, be.Kind)

	got, err := s.GetRange(ctx, "obj", Range{Start: 0, End: 10})
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))
	assert.Empty(t, tempFiles(t, dir))
}

func TestLocalStore_WriteFailureAbortsPut(t *testing.T) {
	s, ffs, dir := newFaultyLocalStore(t)
	ffs.AddRule(tempPrefix, fs.Fault{FailAfterBytes: 2})

	_, err := s.Put(t.Context(), "obj", []byte("payload"))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = s.Head(t.Context(), "obj")
	assert.True(t, IsNotFound(err))
	assert.Empty(t, tempFiles(t, dir))
}

func TestLocalStore_RenameFailureLeavesNoTemp(t *testing.T) {
	s, ffs, dir := newFaultyLocalStore(t)
	ffs.AddRule("obj", fs.Fault{FailAfterBytes: -1, FailOnRename: true})

	w, err := s.Create(t.Context(), "obj")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.ErrorIs(t, w.Close(), fs.ErrInjected)

	_, err = s.Head(t.Context(), "obj")
	assert.True(t, IsNotFound(err))
	assert.Empty(t, tempFiles(t, dir))
}
