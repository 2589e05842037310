package pagecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    bytesRead   prometheus.Counter
//	    pageHits    prometheus.Counter
//	    readLatency prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordGetRange(bytes, hits, misses int, d time.Duration, err error) {
//	    p.bytesRead.Add(float64(bytes))
//	    p.pageHits.Add(float64(hits))
//	    p.readLatency.Observe(d.Seconds())
//	}
type MetricsCollector interface {
	// RecordGetRange is called after each ranged read. bytes is the number
	// of bytes returned, hits and misses count pages served from the cache
	// and from the backing store.
	RecordGetRange(bytes, hits, misses int, duration time.Duration, err error)

	// RecordHead is called after each metadata lookup.
	RecordHead(duration time.Duration, err error)

	// RecordInvalidate is called after each write-triggered invalidation.
	RecordInvalidate(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGetRange(int, int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordHead(time.Duration, error)                    {}
func (NoopMetricsCollector) RecordInvalidate(time.Duration, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GetRangeCount      atomic.Int64
	GetRangeErrors     atomic.Int64
	GetRangeTotalNanos atomic.Int64
	BytesRead          atomic.Int64
	PageHits           atomic.Int64
	PageMisses         atomic.Int64
	HeadCount          atomic.Int64
	HeadErrors         atomic.Int64
	InvalidateCount    atomic.Int64
	InvalidateErrors   atomic.Int64
}

// RecordGetRange implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGetRange(bytes, hits, misses int, duration time.Duration, err error) {
	b.GetRangeCount.Add(1)
	b.GetRangeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GetRangeErrors.Add(1)
		return
	}
	b.BytesRead.Add(int64(bytes))
	b.PageHits.Add(int64(hits))
	b.PageMisses.Add(int64(misses))
}

// RecordHead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHead(_ time.Duration, err error) {
	b.HeadCount.Add(1)
	if err != nil {
		b.HeadErrors.Add(1)
	}
}

// RecordInvalidate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidate(_ time.Duration, err error) {
	b.InvalidateCount.Add(1)
	if err != nil {
		b.InvalidateErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GetRangeCount:    b.GetRangeCount.Load(),
		GetRangeErrors:   b.GetRangeErrors.Load(),
		GetRangeAvgNanos: b.getAvgGetRangeNanos(),
		BytesRead:        b.BytesRead.Load(),
		PageHits:         b.PageHits.Load(),
		PageMisses:       b.PageMisses.Load(),
		HitRatio:         b.hitRatio(),
		HeadCount:        b.HeadCount.Load(),
		HeadErrors:       b.HeadErrors.Load(),
		InvalidateCount:  b.InvalidateCount.Load(),
		InvalidateErrors: b.InvalidateErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgGetRangeNanos() int64 {
	count := b.GetRangeCount.Load()
	if count == 0 {
		return 0
	}
	return b.GetRangeTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) hitRatio() float64 {
	hits := b.PageHits.Load()
	total := hits + b.PageMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GetRangeCount    int64
	GetRangeErrors   int64
	GetRangeAvgNanos int64
	BytesRead        int64
	PageHits         int64
	PageMisses       int64
	HitRatio         float64
	HeadCount        int64
	HeadErrors       int64
	InvalidateCount  int64
	InvalidateErrors int64
}
