// Package resource implements the Controller for shared limits.
//
// The Controller governs three resource types:
//
//   - Memory: account cache-resident bytes against a hard limit (non-blocking, fail-fast)
//   - Fetch slots: cap in-flight backend requests across all callers
//   - IO: rate-limit backend read bandwidth (token bucket)
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and an atomic
// counter for usage. TryAcquireMemory never blocks; a cache that cannot
// reserve memory simply does not admit the entry:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30, // 1GB limit
//	})
//
//	if !rc.TryAcquireMemory(int64(len(page))) {
//	    return // not admitted
//	}
//	defer rc.ReleaseMemory(int64(len(page)))
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	if err := rc.AcquireIO(ctx, 8<<20); err != nil {
//	    return err
//	}
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
