package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/pagecache/blobstore"
)

const (
	storeName = "MinIO"
	// streamPartSize bounds the buffer of unknown-size uploads.
	streamPartSize = 16 << 20
	getChunkSize   = 1 << 20
)

// Store implements blobstore.BlobStore for MinIO and S3-compatible storage.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a new MinIO blob store.
// bucket is the MinIO bucket name.
// rootPrefix is prepended to all keys (e.g. "datasets/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(rootPrefix, "/"),
	}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *Store) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// Get returns the whole object. Each range-over of the payload opens a new
// GET request.
func (s *Store) Get(ctx context.Context, name string) (*blobstore.GetResult, error) {
	meta, err := s.Head(ctx, name)
	if err != nil {
		return nil, err
	}
	return &blobstore.GetResult{
		Meta:  meta,
		Range: blobstore.Range{Start: 0, End: meta.Size},
		Payload: blobstore.ReaderChunks(func() (io.ReadCloser, error) {
			obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
			if err != nil {
				return nil, classify(name, err)
			}
			return &classifyingReader{obj: obj, name: name}, nil
		}, getChunkSize),
	}, nil
}

// GetRange fetches r with a single ranged GET.
func (s *Store) GetRange(ctx context.Context, name string, r blobstore.Range) ([]byte, error) {
	if r.Start < 0 || r.End < r.Start {
		return nil, blobstore.Classify(storeName, name, fmt.Errorf("%w: %s", blobstore.ErrInvalidRange, r))
	}
	if r.Empty() {
		meta, err := s.Head(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := r.Validate(meta.Size); err != nil {
			return nil, blobstore.Classify(storeName, name, err)
		}
		return []byte{}, nil
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(r.Start, r.End-1); err != nil {
		return nil, blobstore.Classify(storeName, name, err)
	}

	// GetObject is lazy: request errors surface on the first Read.
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), opts)
	if err != nil {
		return nil, classify(name, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "InvalidRange" {
			return s.rangeNotSatisfiable(ctx, name, r)
		}
		return nil, classify(name, err)
	}
	return data, nil
}

func (s *Store) rangeNotSatisfiable(ctx context.Context, name string, r blobstore.Range) ([]byte, error) {
	meta, err := s.Head(ctx, name)
	if err != nil {
		return nil, err
	}
	if r.Start == meta.Size {
		return []byte{}, nil
	}
	err = r.Validate(meta.Size)
	if err == nil {
		err = fmt.Errorf("%w: %s not satisfiable for size %d", blobstore.ErrInvalidRange, r, meta.Size)
	}
	return nil, blobstore.Classify(storeName, name, err)
}

// GetRanges coalesces nearby ranges into concurrent ranged requests.
func (s *Store) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
	out, err := blobstore.GetRangesCoalesced(ctx, ranges, blobstore.DefaultCoalesceGap, blobstore.DefaultFetchParallelism,
		func(ctx context.Context, r blobstore.Range) ([]byte, error) {
			return s.GetRange(ctx, name, r)
		})
	if err != nil {
		var be *blobstore.Error
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, blobstore.Classify(storeName, name, err)
	}
	return out, nil
}

// Head returns the object metadata.
func (s *Store) Head(ctx context.Context, name string) (blobstore.ObjectMeta, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(name), minio.StatObjectOptions{})
	if err != nil {
		return blobstore.ObjectMeta{}, classify(name, err)
	}
	return s.meta(info), nil
}

func (s *Store) meta(info minio.ObjectInfo) blobstore.ObjectMeta {
	return blobstore.ObjectMeta{
		Location:     s.name(info.Key),
		LastModified: info.LastModified,
		Size:         info.Size,
		ETag:         strings.Trim(info.ETag, `"`),
		Version:      info.VersionID,
	}
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) (blobstore.PutResult, error) {
	info, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return blobstore.PutResult{}, classify(name, err)
	}
	return blobstore.PutResult{ETag: strings.Trim(info.ETag, `"`), Version: info.VersionID}, nil
}

// Create streams a blob through a multipart upload of unknown size.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	pr, pw := io.Pipe()

	blob := &minioWritableBlob{
		pw:   pw,
		done: make(chan error, 1),
	}

	// Start upload in background
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, minio.PutObjectOptions{PartSize: streamPartSize})
		_ = pr.CloseWithError(err)
		blob.done <- classify(name, err)
	}()

	return blob, nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return classify(name, err)
	}
	return nil
}

// Copy copies a blob server-side, overwriting the destination.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: s.key(to)},
		minio.CopySrcOptions{Bucket: s.bucket, Object: s.key(from)},
	)
	return classify(from, err)
}

// CopyIfNotExists copies a blob unless the destination exists.
//
// The existence check and the copy are separate requests, so two concurrent
// callers may both succeed. Use the s3 package with a DynamoLock where that
// matters.
func (s *Store) CopyIfNotExists(ctx context.Context, from, to string) error {
	if _, err := s.Head(ctx, to); err == nil {
		return blobstore.Classify(storeName, to, fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, to))
	} else if !blobstore.IsNotFound(err) {
		return err
	}
	return s.Copy(ctx, from, to)
}

// List yields every object below prefix in lexical key order.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[blobstore.ObjectMeta, error] {
	return func(yield func(blobstore.ObjectMeta, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		// Stops the listing goroutine when the consumer breaks early.
		defer cancel()

		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
			Prefix:    s.key(prefix),
			Recursive: true,
		}) {
			if obj.Err != nil {
				yield(blobstore.ObjectMeta{}, classify(prefix, obj.Err))
				return
			}
			if !yield(s.meta(obj), nil) {
				return
			}
		}
	}
}

// ListWithDelimiter lists one level below prefix. Common prefixes are
// returned without the trailing delimiter.
func (s *Store) ListWithDelimiter(ctx context.Context, prefix string) (blobstore.ListResult, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var res blobstore.ListResult
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: false,
	}) {
		if obj.Err != nil {
			return blobstore.ListResult{}, classify(prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			res.CommonPrefixes = append(res.CommonPrefixes, strings.TrimSuffix(s.name(obj.Key), "/"))
			continue
		}
		res.Objects = append(res.Objects, s.meta(obj))
	}
	return res, nil
}

// classifyingReader maps errors of a lazily opened object.
type classifyingReader struct {
	obj  *minio.Object
	name string
}

func (r *classifyingReader) Read(p []byte) (int, error) {
	n, err := r.obj.Read(p)
	if err != nil && err != io.EOF {
		err = classify(r.name, err)
	}
	return n, err
}

func (r *classifyingReader) Close() error {
	return r.obj.Close()
}

// minioWritableBlob implements blobstore.WritableBlob for MinIO.
type minioWritableBlob struct {
	pw       *io.PipeWriter
	done     chan error
	finished atomic.Bool

	mu  sync.Mutex
	err error
}

func (b *minioWritableBlob) Write(p []byte) (int, error) {
	if b.finished.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

func (b *minioWritableBlob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.finished.CompareAndSwap(false, true) {
		return b.err
	}
	if err := b.pw.Close(); err != nil {
		b.err = err
		return err
	}
	b.err = <-b.done
	return b.err
}

// Abort cancels the upload; the object is not created.
func (b *minioWritableBlob) Abort() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.finished.CompareAndSwap(false, true) {
		return nil
	}
	_ = b.pw.CloseWithError(errors.New("upload aborted"))
	<-b.done
	b.err = context.Canceled
	return nil
}

func (b *minioWritableBlob) Sync() error {
	return nil // Streaming upload, no sync needed
}

var _ blobstore.BlobStore = (*Store)(nil)
