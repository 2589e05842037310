package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hupe1980/pagecache/blobstore"
)

// getChunkSize is the chunk size of whole-object payloads.
const getChunkSize = 1 << 20

// Store implements blobstore.BlobStore for S3.
type Store struct {
	client         Client
	bucket         string
	prefix         string
	uploadCfg      UploadConfig
	lock           *DynamoLock
	conditionalPut bool
	coalesceGap    int64
	parallelism    int
}

// Option configures a Store.
type Option func(*options)

type options struct {
	prefix         string
	region         string
	client         Client
	uploadCfg      UploadConfig
	lock           *DynamoLock
	conditionalPut bool
	coalesceGap    int64
	parallelism    int
}

// WithPrefix prepends prefix to every key (e.g. "tenant-a/").
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithRegion sets the AWS region used by New.
func WithRegion(region string) Option {
	return func(o *options) { o.region = region }
}

// WithClient uses client instead of loading the default AWS configuration.
func WithClient(client Client) Option {
	return func(o *options) { o.client = client }
}

// WithUploadConfig configures multipart uploads used by Create.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *options) { o.uploadCfg = cfg }
}

// WithDynamoLock makes CopyIfNotExists safe by serializing copies to the
// same destination through a DynamoDB lock.
func WithDynamoLock(lock *DynamoLock) Option {
	return func(o *options) { o.lock = lock }
}

// WithConditionalPut implements CopyIfNotExists with a conditional
// If-None-Match write. Requires a bucket that supports conditional writes
// (S3 since 2024, S3 Express One Zone).
func WithConditionalPut() Option {
	return func(o *options) { o.conditionalPut = true }
}

// WithRangeCoalescing sets how GetRanges merges nearby ranges: ranges closer
// than gap bytes share one request, and at most parallelism requests run at
// once.
func WithRangeCoalescing(gap int64, parallelism int) Option {
	return func(o *options) {
		o.coalesceGap = gap
		o.parallelism = parallelism
	}
}

// New creates a Store for bucket using the default AWS credential chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	o := options{}
	for _, fn := range optFns {
		fn(&o)
	}

	client := o.client
	if client == nil {
		var loadOpts []func(*config.LoadOptions) error
		if o.region != "" {
			loadOpts = append(loadOpts, config.WithRegion(o.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = s3.NewFromConfig(cfg)
	}

	return NewStore(client, bucket, o.prefix, optFns...), nil
}

// NewStore creates a new S3 blob store.
// rootPrefix is prepended to all keys (e.g. "my-cache/").
func NewStore(client Client, bucket, rootPrefix string, optFns ...Option) *Store {
	o := options{
		uploadCfg:   DefaultUploadConfig(),
		coalesceGap: blobstore.DefaultCoalesceGap,
		parallelism: blobstore.DefaultFetchParallelism,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	return &Store{
		client:         client,
		bucket:         bucket,
		prefix:         strings.Trim(rootPrefix, "/"),
		uploadCfg:      o.uploadCfg,
		lock:           o.lock,
		conditionalPut: o.conditionalPut,
		coalesceGap:    o.coalesceGap,
		parallelism:    o.parallelism,
	}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// name turns a bucket key back into a store-relative name.
func (s *Store) name(key string) string {
	if s.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, s.prefix+"/")
}

// Get returns the whole object. Each range-over of the payload issues a new
// GetObject request.
func (s *Store) Get(ctx context.Context, name string) (*blobstore.GetResult, error) {
	meta, err := s.Head(ctx, name)
	if err != nil {
		return nil, err
	}
	return &blobstore.GetResult{
		Meta:  meta,
		Range: blobstore.Range{Start: 0, End: meta.Size},
		Payload: blobstore.ReaderChunks(func() (io.ReadCloser, error) {
			resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.key(name)),
			})
			if err != nil {
				return nil, classify(name, err)
			}
			return resp.Body, nil
		}, getChunkSize),
	}, nil
}

// GetRange fetches r with a single ranged GetObject.
func (s *Store) GetRange(ctx context.Context, name string, r blobstore.Range) ([]byte, error) {
	if r.Start < 0 || r.End < r.Start {
		return nil, blobstore.Classify(storeName, name, fmt.Errorf("%w: %s", blobstore.ErrInvalidRange, r))
	}
	if r.Empty() {
		// S3 has no notion of an empty range; still report missing objects.
		meta, err := s.Head(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := r.Validate(meta.Size); err != nil {
			return nil, blobstore.Classify(storeName, name, err)
		}
		return []byte{}, nil
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)),
	})
	if err != nil {
		if hasErrorCode(err, "InvalidRange") {
			return s.rangeNotSatisfiable(ctx, name, r)
		}
		return nil, classify(name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(name, err)
	}
	return data, nil
}

// rangeNotSatisfiable resolves a 416 response: a range starting exactly at
// the end of the object is empty, anything further out is invalid.
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
	out, err := blobstore.GetRangesCoalesced(ctx, ranges, s.coalesceGap, s.parallelism,
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
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return blobstore.ObjectMeta{}, classify(name, err)
	}
	return blobstore.ObjectMeta{
		Location:     name,
		LastModified: aws.ToTime(head.LastModified),
		Size:         aws.ToInt64(head.ContentLength),
		ETag:         trimETag(aws.ToString(head.ETag)),
		Version:      aws.ToString(head.VersionId),
	}, nil
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) (blobstore.PutResult, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	}
	if s.uploadCfg.EnableChecksum {
		input.ChecksumCRC32C = aws.String(computeCRC32C(data))
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return blobstore.PutResult{}, classify(name, err)
	}
	return blobstore.PutResult{
		ETag:    trimETag(aws.ToString(out.ETag)),
		Version: aws.ToString(out.VersionId),
	}, nil
}

// Create streams a blob through a multipart upload. The object becomes
// visible when the writer is closed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	uploader := newUploader(s.client, s.uploadCfg)
	return newStreamingWritableBlob(ctx, uploader, s.bucket, s.key(name), s.uploadCfg.EnableChecksum), nil
}

// Delete removes a blob. S3 deletes are idempotent.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return classify(name, err)
	}
	return nil
}

// Copy copies a blob server-side, overwriting the destination.
func (s *Store) Copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(to)),
		CopySource: aws.String(s.copySource(from)),
	})
	return classify(from, err)
}

func (s *Store) copySource(name string) string {
	return s.bucket + "/" + (&url.URL{Path: s.key(name)}).EscapedPath()
}

// CopyIfNotExists copies a blob unless the destination exists.
//
// S3 has no conditional copy. With a DynamoLock the check and the copy run
// under a lock on the destination; with conditional puts the source is read
// and written with If-None-Match. Without either it returns
// blobstore.ErrNotSupported.
func (s *Store) CopyIfNotExists(ctx context.Context, from, to string) error {
	switch {
	case s.lock != nil:
		return s.copyLocked(ctx, from, to)
	case s.conditionalPut:
		return s.copyConditional(ctx, from, to)
	default:
		return blobstore.Classify(storeName, to, fmt.Errorf("%w: CopyIfNotExists requires a DynamoLock or conditional puts", blobstore.ErrNotSupported))
	}
}

func (s *Store) copyLocked(ctx context.Context, from, to string) (err error) {
	release, err := s.lock.Acquire(ctx, s.bucket+"/"+s.key(to))
	if err != nil {
		return blobstore.Classify(storeName, to, err)
	}
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = blobstore.Classify(storeName, to, rerr)
		}
	}()

	if _, err := s.Head(ctx, to); err == nil {
		return blobstore.Classify(storeName, to, fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, to))
	} else if !blobstore.IsNotFound(err) {
		return err
	}
	return s.Copy(ctx, from, to)
}

func (s *Store) copyConditional(ctx context.Context, from, to string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(from)),
	})
	if err != nil {
		return classify(from, err)
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return classify(from, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(to)),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"), // Only succeed if object doesn't exist
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return blobstore.Classify(storeName, to, fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, to))
		}
		return classify(to, err)
	}
	return nil
}

// List yields every object below prefix in lexical key order, following
// continuation tokens lazily.
func (s *Store) List(ctx context.Context, prefix string) iter.Seq2[blobstore.ObjectMeta, error] {
	return func(yield func(blobstore.ObjectMeta, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.key(prefix)),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(blobstore.ObjectMeta{}, classify(prefix, err))
				return
			}
			for _, obj := range page.Contents {
				meta := blobstore.ObjectMeta{
					Location:     s.name(aws.ToString(obj.Key)),
					LastModified: aws.ToTime(obj.LastModified),
					Size:         aws.ToInt64(obj.Size),
					ETag:         trimETag(aws.ToString(obj.ETag)),
				}
				if !yield(meta, nil) {
					return
				}
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
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(s.key(prefix)),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return blobstore.ListResult{}, classify(prefix, err)
		}
		for _, cp := range page.CommonPrefixes {
			res.CommonPrefixes = append(res.CommonPrefixes, strings.TrimSuffix(s.name(aws.ToString(cp.Prefix)), "/"))
		}
		for _, obj := range page.Contents {
			res.Objects = append(res.Objects, blobstore.ObjectMeta{
				Location:     s.name(aws.ToString(obj.Key)),
				LastModified: aws.ToTime(obj.LastModified),
				Size:         aws.ToInt64(obj.Size),
				ETag:         trimETag(aws.ToString(obj.ETag)),
			})
		}
	}
	return res, nil
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

var _ blobstore.BlobStore = (*Store)(nil)
