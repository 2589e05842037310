package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/pagecache/internal/fs"
	"github.com/hupe1980/pagecache/internal/mmap"
)

const (
	localStoreName = "LocalStore"
	tempPrefix     = ".tmp-"
	// localChunkSize is the chunk size of whole-object payloads.
	localChunkSize = 1 << 20
)

// LocalStore implements BlobStore using the local file system.
//
// Names are slash-separated paths below the root directory. Reads use a
// read-only memory mapping; writes go to a temporary file that is renamed
// into place, so readers never observe partial objects.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root, fs: fs.Default}
}

func (s *LocalStore) path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &Error{Kind: KindGeneric, Store: localStoreName, Path: name, Err: errors.New("invalid object name")}
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) fail(name string, err error) error {
	return Classify(localStoreName, name, err)
}

// Get returns the whole object as a sequence of chunks read from the file.
func (s *LocalStore) Get(ctx context.Context, name string) (*GetResult, error) {
	meta, err := s.Head(ctx, name)
	if err != nil {
		return nil, err
	}
	p, _ := s.path(name)
	return &GetResult{
		Meta:  meta,
		Range: Range{Start: 0, End: meta.Size},
		Payload: ReaderChunks(func() (io.ReadCloser, error) {
			f, err := s.fs.Open(p)
			if err != nil {
				return nil, s.fail(name, err)
			}
			return f, nil
		}, localChunkSize),
	}, nil
}

// GetRange returns the bytes of r, clipped to the file size.
func (s *LocalStore) GetRange(ctx context.Context, name string, r Range) ([]byte, error) {
	out, err := s.GetRanges(ctx, name, []Range{r})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GetRanges serves every range from one mapping of the file.
func (s *LocalStore) GetRanges(_ context.Context, name string, ranges []Range) ([][]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	m, err := mmap.Open(p)
	if err != nil {
		return nil, s.fail(name, err)
	}
	defer m.Close()

	_ = m.Advise(mmap.AccessRandom)

	size := m.Size()
	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		if err := r.Validate(size); err != nil {
			return nil, s.fail(name, err)
		}
		r = r.Clip(size)
		// Copy out; the mapping is gone after Close.
		buf := make([]byte, r.Len())
		if r.Len() > 0 {
			if _, err := m.ReadAt(buf, r.Start); err != nil && !errors.Is(err, io.EOF) {
				return nil, s.fail(name, err)
			}
		}
		out[i] = buf
	}
	return out, nil
}

// Head returns file metadata. The ETag combines modification time and size.
func (s *LocalStore) Head(_ context.Context, name string) (ObjectMeta, error) {
	p, err := s.path(name)
	if err != nil {
		return ObjectMeta{}, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		return ObjectMeta{}, s.fail(name, err)
	}
	if fi.IsDir() {
		return ObjectMeta{}, s.fail(name, fmt.Errorf("%w: is a directory", ErrNotFound))
	}
	return localMeta(name, fi), nil
}

func localMeta(name string, fi os.FileInfo) ObjectMeta {
	return ObjectMeta{
		Location:     name,
		LastModified: fi.ModTime(),
		Size:         fi.Size(),
		ETag:         fmt.Sprintf("%x-%x", fi.ModTime().UnixNano(), fi.Size()),
	}
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) (PutResult, error) {
	w, err := s.create(name)
	if err != nil {
		return PutResult{}, err
	}
	if _, err := w.Write(data); err != nil {
		w.abort()
		return PutResult{}, s.fail(name, err)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, err
	}

	meta, err := s.Head(ctx, name)
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{ETag: meta.ETag}, nil
}

// Create returns a writer to a temporary file that is renamed into place on Close.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return s.create(name)
}

func (s *LocalStore) create(name string) (*localWritableBlob, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, s.fail(name, err)
	}
	f, err := s.fs.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, s.fail(name, err)
	}
	return &localWritableBlob{f: f, name: name, commit: func(tmp string) error {
		return s.fs.Rename(tmp, p)
	}, store: s}, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s.fail(name, err)
	}
	return nil
}

// Copy copies a blob, overwriting the destination.
func (s *LocalStore) Copy(_ context.Context, from, to string) error {
	w, err := s.copyToTemp(from, to)
	if err != nil {
		return err
	}
	return w.Close()
}

// CopyIfNotExists copies a blob unless the destination exists. The new file
// is linked into place, which fails atomically if the destination exists.
func (s *LocalStore) CopyIfNotExists(_ context.Context, from, to string) error {
	w, err := s.copyToTemp(from, to)
	if err != nil {
		return err
	}
	dst, _ := s.path(to)
	w.commit = func(tmp string) error {
		err := s.fs.Link(tmp, dst)
		_ = s.fs.Remove(tmp)
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, to)
		}
		return err
	}
	return w.Close()
}

func (s *LocalStore) copyToTemp(from, to string) (*localWritableBlob, error) {
	src, err := s.path(from)
	if err != nil {
		return nil, err
	}
	in, err := s.fs.Open(src)
	if err != nil {
		return nil, s.fail(from, err)
	}
	defer in.Close()

	w, err := s.create(to)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w.f, in); err != nil {
		w.abort()
		return nil, s.fail(from, err)
	}
	return w, nil
}

// List yields all blobs below prefix in lexical order.
func (s *LocalStore) List(_ context.Context, prefix string) iter.Seq2[ObjectMeta, error] {
	return func(yield func(ObjectMeta, error) bool) {
		metas, err := s.snapshot(prefix)
		if err != nil {
			yield(ObjectMeta{}, err)
			return
		}
		for _, meta := range metas {
			if !yield(meta, nil) {
				return
			}
		}
	}
}

// ListWithDelimiter lists one level below prefix.
func (s *LocalStore) ListWithDelimiter(_ context.Context, prefix string) (ListResult, error) {
	metas, err := s.snapshot(prefix)
	if err != nil {
		return ListResult{}, err
	}
	return groupByDelimiter(prefix, metas), nil
}

func (s *LocalStore) snapshot(prefix string) ([]ObjectMeta, error) {
	var metas []ObjectMeta
	err := s.fs.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			// Removed while walking.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		metas = append(metas, localMeta(name, fi))
		return nil
	})
	if err != nil {
		return nil, s.fail(prefix, err)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Location < metas[j].Location })
	return metas, nil
}

// localWritableBlob writes to a temporary file and commits it on Close.
type localWritableBlob struct {
	f      fs.File
	name   string
	commit func(tmp string) error
	store  *LocalStore
	done   bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error {
	return w.f.Sync()
}

func (w *localWritableBlob) Close() error {
	if w.done {
		return io.ErrClosedPipe
	}
	w.done = true

	if err := w.f.Sync(); err != nil {
		w.cleanup()
		return w.store.fail(w.name, err)
	}
	if err := w.f.Close(); err != nil {
		_ = w.store.fs.Remove(w.f.Name())
		return w.store.fail(w.name, err)
	}
	if err := w.commit(w.f.Name()); err != nil {
		_ = w.store.fs.Remove(w.f.Name())
		return w.store.fail(w.name, err)
	}
	return nil
}

func (w *localWritableBlob) abort() {
	w.done = true
	w.cleanup()
}

func (w *localWritableBlob) cleanup() {
	_ = w.f.Close()
	_ = w.store.fs.Remove(w.f.Name())
}
