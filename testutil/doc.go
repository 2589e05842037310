// Package testutil provides testing utilities for pagecache.
//
// This package is intended for use in tests and benchmarks only.
//
// # Objects
//
//	data := testutil.SequentialObject(1000) // 1000 big-endian uint64s, 0..999
//	v := testutil.ValueAt(data, 17)         // 17
//
// # Counting Stores
//
//	store := testutil.NewCountingStore(blobstore.NewMemoryStore())
//	// ... exercise the read-through store ...
//	store.Calls("GetRanges")
package testutil
