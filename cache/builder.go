package cache

import (
	"fmt"
	"time"

	"github.com/hupe1980/pagecache/internal/conv"
	"github.com/hupe1980/pagecache/resource"
)

const (
	// DefaultPageSize is the page size used when none is configured.
	DefaultPageSize int64 = 8 * 1024 * 1024
	// DefaultTimeToIdle expires pages not accessed for 30 minutes.
	DefaultTimeToIdle = 30 * time.Minute
)

// InMemoryCacheBuilder configures an InMemoryCache.
//
// Example:
//
//	c, err := cache.NewBuilder(512 << 20).
//	    PageSize(1 << 20).
//	    TimeToIdle(10 * time.Minute).
//	    Compression(cache.CompressionLZ4).
//	    Build()
type InMemoryCacheBuilder struct {
	capacity           int64
	pageSize           int64
	timeToIdle         time.Duration
	metadataCapacity   int64
	metadataTimeToIdle time.Duration
	shards             int
	compression        Compression
	resources          *resource.Controller
	clock              func() time.Time

	err error
}

// NewBuilder returns a builder for a cache holding up to capacity bytes of pages.
func NewBuilder(capacity int64) *InMemoryCacheBuilder {
	return &InMemoryCacheBuilder{
		capacity:         capacity,
		pageSize:         DefaultPageSize,
		timeToIdle:       DefaultTimeToIdle,
		metadataCapacity: DefaultMetadataCapacity,
		shards:           1,
	}
}

// WithSysMemory returns a builder whose capacity is fraction of the total
// system memory. Fractions above 1 are accepted; the caller owns the risk of
// swapping or OOM. If the memory size cannot be determined, Build fails.
func WithSysMemory(fraction float64) *InMemoryCacheBuilder {
	total, err := totalSystemMemory()
	b := NewBuilder(int64(float64(total) * fraction))
	if err != nil {
		b.err = fmt.Errorf("%w: probe system memory: %w", ErrInvalidConfig, err)
	}
	return b
}

// New creates a cache with the given capacity and page size and default
// settings otherwise.
func New(capacity, pageSize int64) (*InMemoryCache, error) {
	return NewBuilder(capacity).PageSize(pageSize).Build()
}

// PageSize sets the page size in bytes.
func (b *InMemoryCacheBuilder) PageSize(n int64) *InMemoryCacheBuilder {
	b.pageSize = n
	return b
}

// TimeToIdle expires pages not read or written for d. 0 disables expiry.
func (b *InMemoryCacheBuilder) TimeToIdle(d time.Duration) *InMemoryCacheBuilder {
	b.timeToIdle = d
	return b
}

// MetadataCapacity sets the maximum number of cached metadata entries.
func (b *InMemoryCacheBuilder) MetadataCapacity(n int64) *InMemoryCacheBuilder {
	b.metadataCapacity = n
	return b
}

// MetadataTimeToIdle sets the metadata idle timeout. Defaults to the page
// idle timeout.
func (b *InMemoryCacheBuilder) MetadataTimeToIdle(d time.Duration) *InMemoryCacheBuilder {
	b.metadataTimeToIdle = d
	return b
}

// Shards splits the page store into n independently locked shards.
// Capacity is divided evenly, so eviction order is per shard.
func (b *InMemoryCacheBuilder) Shards(n int) *InMemoryCacheBuilder {
	b.shards = n
	return b
}

// Compression sets the codec for resident pages.
func (b *InMemoryCacheBuilder) Compression(c Compression) *InMemoryCacheBuilder {
	b.compression = c
	return b
}

// ResourceController charges resident page bytes to rc. Pages the
// controller refuses are served but not cached.
func (b *InMemoryCacheBuilder) ResourceController(rc *resource.Controller) *InMemoryCacheBuilder {
	b.resources = rc
	return b
}

// Build validates the configuration and creates the cache.
func (b *InMemoryCacheBuilder) Build() (*InMemoryCache, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, b.capacity)
	}
	if b.pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidConfig, b.pageSize)
	}
	if b.metadataCapacity <= 0 {
		return nil, fmt.Errorf("%w: metadata capacity must be positive, got %d", ErrInvalidConfig, b.metadataCapacity)
	}
	if b.timeToIdle < 0 || b.metadataTimeToIdle < 0 {
		return nil, fmt.Errorf("%w: idle timeouts must not be negative", ErrInvalidConfig)
	}
	if b.compression > CompressionZSTD {
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidConfig, b.compression)
	}
	if b.compression != CompressionNone {
		// The encoded page header stores sizes as u32.
		if _, err := conv.Int64ToUint32(b.pageSize); err != nil {
			return nil, fmt.Errorf("%w: page size too large for compression: %w", ErrInvalidConfig, err)
		}
	}

	cfg := *b
	if cfg.metadataTimeToIdle == 0 {
		cfg.metadataTimeToIdle = cfg.timeToIdle
	}
	if cfg.shards < 1 {
		cfg.shards = 1
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}
	return newInMemoryCache(&cfg), nil
}
