package blobstore

import (
	"bytes"
	"context"
	"io"
	"iter"
	"time"
)

// BlobStore is the capability every backing object store exposes.
//
// Implementations must be safe for concurrent use. Names are opaque,
// path-like object identifiers compared by value.
type BlobStore interface {
	// Get returns the whole object as a lazily produced sequence of chunks.
	Get(ctx context.Context, name string) (*GetResult, error)
	// GetRange returns the bytes in r. A range extending past the end of the
	// object returns the available bytes.
	GetRange(ctx context.Context, name string, r Range) ([]byte, error)
	// GetRanges fetches several ranges of one object in a single logical
	// request. Results are returned in input order.
	GetRanges(ctx context.Context, name string, ranges []Range) ([][]byte, error)
	// Head returns the object metadata.
	Head(ctx context.Context, name string) (ObjectMeta, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) (PutResult, error)
	// Create opens a streaming (multipart) writer. The object becomes visible
	// when the writer is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// Copy copies from to to, overwriting to.
	Copy(ctx context.Context, from, to string) error
	// CopyIfNotExists copies from to to unless to already exists, in which
	// case it returns an error satisfying errors.Is(err, ErrAlreadyExists).
	CopyIfNotExists(ctx context.Context, from, to string) error
	// List yields the metadata of every object below prefix.
	List(ctx context.Context, prefix string) iter.Seq2[ObjectMeta, error]
	// ListWithDelimiter lists one level below prefix, grouping deeper
	// objects into common prefixes on "/".
	ListWithDelimiter(ctx context.Context, prefix string) (ListResult, error)
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Location     string
	LastModified time.Time
	Size         int64
	ETag         string
	Version      string
}

// PutResult is returned by a successful Put.
type PutResult struct {
	ETag    string
	Version string
}

// ListResult is a single level of a delimited listing.
type ListResult struct {
	CommonPrefixes []string
	Objects        []ObjectMeta
}

// WritableBlob is a streaming writer for a new blob.
type WritableBlob interface {
	io.WriteCloser
	// Sync is a no-op for remote stores; data is committed on Close.
	Sync() error
}

// GetResult is the result of a whole-object read.
type GetResult struct {
	Meta ObjectMeta
	// Range is the byte range covered by Payload.
	Range Range
	// Payload yields the object bytes in order. Every range-over starts
	// again from the beginning of Range.
	Payload iter.Seq2[[]byte, error]
}

// Bytes drains Payload into a single buffer.
func (r *GetResult) Bytes() ([]byte, error) {
	buf := make([]byte, 0, r.Range.Len())
	for chunk, err := range r.Payload {
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}
	return buf, nil
}

// Reader returns an io.Reader over Payload.
func (r *GetResult) Reader() io.Reader {
	next, stop := iter.Pull2(r.Payload)
	return &payloadReader{next: next, stop: stop}
}

type payloadReader struct {
	next func() ([]byte, error, bool)
	stop func()
	buf  []byte
	err  error
}

func (p *payloadReader) Read(b []byte) (int, error) {
	for len(p.buf) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		chunk, err, ok := p.next()
		if !ok {
			p.stop()
			p.err = io.EOF
			continue
		}
		if err != nil {
			p.stop()
			p.err = err
			continue
		}
		p.buf = chunk
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

// SingleChunk returns a payload that yields data as one chunk.
func SingleChunk(data []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if len(data) > 0 {
			yield(data, nil)
		}
	}
}

// ReaderChunks returns a payload reading chunkSize pieces from open.
// open is invoked on every range-over so the sequence restarts from the
// beginning of the object.
func ReaderChunks(open func() (io.ReadCloser, error), chunkSize int) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		rc, err := open()
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() { _ = rc.Close() }()

		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(rc, buf)
			if n > 0 {
				if !yield(buf[:n], nil) {
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// bufferWritableBlob buffers writes and commits them on Close.
type bufferWritableBlob struct {
	buf    bytes.Buffer
	commit func(data []byte) error
	closed bool
}

func (w *bufferWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *bufferWritableBlob) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true
	return w.commit(w.buf.Bytes())
}

func (w *bufferWritableBlob) Sync() error {
	return nil
}
