// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("datasets/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	c, err := cache.NewBuilder(4 << 30).Build()
//	rt := pagecache.NewReadThroughStore(store, c)
//
// # Features
//
//   - Ranged GetObject reads, with nearby ranges of GetRanges coalesced
//   - Multipart uploads with CRC32C checksums for Create
//   - Lazy pagination for listing
//   - CopyIfNotExists through a DynamoDB lock or conditional writes
//   - Configurable prefix for multi-tenant isolation
package s3
