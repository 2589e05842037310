// Package blobstore provides the object storage abstraction read through by
// pagecache.
//
// BlobStore is the interface for reading and writing objects ("blobs").
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory map, for tests
//   - LocalStore: local filesystem with mmap reads and atomic renames
//   - s3.Store: Amazon S3 with ranged reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// # Ranges
//
// Ranges are half-open byte intervals. A range may extend past the end of an
// object, in which case the available bytes are returned; a range starting
// past the end, or with Start > End, fails with ErrInvalidRange.
//
// Remote stores should implement GetRanges with as few requests as possible.
// GetRangesCoalesced merges nearby ranges and fetches them concurrently:
//
//	func (s *Store) GetRanges(ctx context.Context, name string, ranges []blobstore.Range) ([][]byte, error) {
//	    return blobstore.GetRangesCoalesced(ctx, ranges, blobstore.DefaultCoalesceGap,
//	        blobstore.DefaultFetchParallelism, func(ctx context.Context, r blobstore.Range) ([]byte, error) {
//	            return s.GetRange(ctx, name, r)
//	        })
//	}
//
// # Errors
//
// Missing objects are reported with errors satisfying
// errors.Is(err, ErrNotFound). Stores wrap failures in *Error via Classify so
// callers can tell missing objects from other failures.
package blobstore
