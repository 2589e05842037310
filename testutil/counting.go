package testutil

import (
	"context"
	"iter"
	"sync"

	"github.com/hupe1980/pagecache/blobstore"
)

// CountingStore wraps a BlobStore and records every call by method name.
type CountingStore struct {
	blobstore.BlobStore

	mu     sync.Mutex
	calls  map[string]int
	ranges [][]blobstore.Range
}

// NewCountingStore wraps inner.
func NewCountingStore(inner blobstore.BlobStore) *CountingStore {
	return &CountingStore{BlobStore: inner, calls: make(map[string]int)}
}

func (s *CountingStore) record(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

// Calls returns the number of calls to method.
func (s *CountingStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// GetRangesArgs returns the ranges passed to every GetRanges call, in call order.
func (s *CountingStore) GetRangesArgs() [][]blobstore.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]blobstore.Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Reset clears all counters.
func (s *CountingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.ranges = nil
}

func (s *CountingStore) Get(ctx context.Context, name string) (*blobstore.GetResult, error) {
	s.record("Get")
	return s.BlobStore.Get(ctx, name)
}

func (s *CountingStore) GetRange(ctx context.Context, name string, r blobstore.Range) ([]byte, error) {
	s.record("GetRange")
	return s.BlobStore.GetRange(ctx, name, r)
}

func (s *CountingStore) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	s.mu.Lock()
	s.calls["GetRanges"]++
	s.ranges = append(s.ranges, append([]blobstore.Range(nil), ranges...))
	s.mu.Unlock()
	return s.BlobStore.GetRanges(ctx, name, ranges)
}

func (s *CountingStore) Head(ctx context.Context, name string) (blobstore.ObjectMeta, error) {
	s.record("Head")
	return s.BlobStore.Head(ctx, name)
}

func (s *CountingStore) Put(ctx context.Context, name string, data []byte) (blobstore.PutResult, error) {
	s.record("Put")
	return s.BlobStore.Put(ctx, name, data)
}

func (s *CountingStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	s.record("Create")
	return s.BlobStore.Create(ctx, name)
}

func (s *CountingStore) Delete(ctx context.Context, name string) error {
	s.record("Delete")
	return s.BlobStore.Delete(ctx, name)
}

func (s *CountingStore) Copy(ctx context.Context, from, to string) error {
	s.record("Copy")
	return s.BlobStore.Copy(ctx, from, to)
}

func (s *CountingStore) CopyIfNotExists(ctx context.Context, from, to string) error {
	s.record("CopyIfNotExists")
	return s.BlobStore.CopyIfNotExists(ctx, from, to)
}

func (s *CountingStore) List(ctx context.Context, prefix string) iter.Seq2[blobstore.ObjectMeta, error] {
	s.record("List")
	return s.BlobStore.List(ctx, prefix)
}

func (s *CountingStore) ListWithDelimiter(ctx context.Context, prefix string) (blobstore.ListResult, error) {
	s.record("ListWithDelimiter")
	return s.BlobStore.ListWithDelimiter(ctx, prefix)
}
