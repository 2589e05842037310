package blobstore

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/pagecache/internal/hash"
)

// MemoryStore is an in-memory BlobStore implementation for testing.
// It stores blobs in memory without any filesystem dependency.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryObject
	now   func() time.Time
}

type memoryObject struct {
	data     []byte
	modified time.Time
	etag     string
}

// NewMemoryStore creates a new in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string]memoryObject),
		now:   time.Now,
	}
}

func (m *MemoryStore) load(name string) (memoryObject, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.blobs[name]
	if !ok {
		return memoryObject{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return obj, nil
}

func (m *MemoryStore) meta(name string, obj memoryObject) ObjectMeta {
	return ObjectMeta{
		Location:     name,
		LastModified: obj.modified,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
	}
}

// Get returns the whole blob as a single chunk.
func (m *MemoryStore) Get(_ context.Context, name string) (*GetResult, error) {
	obj, err := m.load(name)
	if err != nil {
		return nil, err
	}
	return &GetResult{
		Meta:    m.meta(name, obj),
		Range:   Range{Start: 0, End: int64(len(obj.data))},
		Payload: SingleChunk(obj.data),
	}, nil
}

// GetRange returns the bytes of r, clipped to the blob size.
func (m *MemoryStore) GetRange(_ context.Context, name string, r Range) ([]byte, error) {
	obj, err := m.load(name)
	if err != nil {
		return nil, err
	}
	size := int64(len(obj.data))
	if err := r.Validate(size); err != nil {
		return nil, err
	}
	r = r.Clip(size)

	// Return a copy to prevent external mutation
	out := make([]byte, r.Len())
	copy(out, obj.data[r.Start:r.End])
	return out, nil
}

// GetRanges resolves every range against one consistent snapshot of the blob.
func (m *MemoryStore) GetRanges(_ context.Context, name string, ranges []Range) ([][]byte, error) {
	obj, err := m.load(name)
	if err != nil {
		return nil, err
	}
	size := int64(len(obj.data))
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		if err := r.Validate(size); err != nil {
			return nil, err
		}
		r = r.Clip(size)
		out[i] = make([]byte, r.Len())
		copy(out[i], obj.data[r.Start:r.End])
	}
	return out, nil
}

// Head returns blob metadata.
func (m *MemoryStore) Head(_ context.Context, name string) (ObjectMeta, error) {
	obj, err := m.load(name)
	if err != nil {
		return ObjectMeta{}, err
	}
	return m.meta(name, obj), nil
}

// Put writes a blob atomically.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.putLocked(name, data), nil
}

func (m *MemoryStore) putLocked(name string, data []byte) PutResult {
	// Copy to prevent external mutation
	copied := make([]byte, len(data))
	copy(copied, data)

	etag := fmt.Sprintf("%08x", hash.CRC32C(copied))
	m.blobs[name] = memoryObject{data: copied, modified: m.now(), etag: etag}
	return PutResult{ETag: etag}
}

// Create returns a writer that stores the blob on Close.
func (m *MemoryStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	return &bufferWritableBlob{
		commit: func(data []byte) error {
			_, err := m.Put(ctx, name, data)
			return err
		},
	}, nil
}

// Delete removes a blob.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, name)
	return nil
}

// Copy copies a blob, overwriting the destination.
func (m *MemoryStore) Copy(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.blobs[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	m.putLocked(to, obj.data)
	return nil
}

// CopyIfNotExists copies a blob unless the destination exists.
func (m *MemoryStore) CopyIfNotExists(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.blobs[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, exists := m.blobs[to]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, to)
	}
	m.putLocked(to, obj.data)
	return nil
}

// List yields all blobs matching the prefix in lexical order.
func (m *MemoryStore) List(_ context.Context, prefix string) iter.Seq2[ObjectMeta, error] {
	return func(yield func(ObjectMeta, error) bool) {
		for _, meta := range m.snapshot(prefix) {
			if !yield(meta, nil) {
				return
			}
		}
	}
}

// ListWithDelimiter lists one level below prefix.
func (m *MemoryStore) ListWithDelimiter(_ context.Context, prefix string) (ListResult, error) {
	return groupByDelimiter(prefix, m.snapshot(prefix)), nil
}

func (m *MemoryStore) snapshot(prefix string) []ObjectMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var metas []ObjectMeta
	for name, obj := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			metas = append(metas, m.meta(name, obj))
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Location < metas[j].Location })
	return metas
}

// groupByDelimiter folds a sorted recursive listing into one level.
func groupByDelimiter(prefix string, metas []ObjectMeta) ListResult {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var res ListResult
	seen := make(map[string]struct{})
	for _, meta := range metas {
		if !strings.HasPrefix(meta.Location, prefix) {
			continue
		}
		rest := meta.Location[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			common := prefix + rest[:i]
			if _, ok := seen[common]; !ok {
				seen[common] = struct{}{}
				res.CommonPrefixes = append(res.CommonPrefixes, common)
			}
			continue
		}
		res.Objects = append(res.Objects, meta)
	}
	return res
}
