package pagecache

import (
	"runtime"

	"github.com/hupe1980/pagecache/resource"
)

type options struct {
	parallelism      int
	logger           *Logger
	metricsCollector MetricsCollector
	resources        *resource.Controller
	ioLimit          int64
}

// Option configures a ReadThroughStore.
type Option func(*options)

func defaultOptions() options {
	return options{
		parallelism:      runtime.NumCPU(),
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
}

// WithParallelism bounds the number of concurrent page lookups per read.
// Values <= 0 fall back to runtime.NumCPU().
func WithParallelism(n int) Option {
	return func(o *options) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		o.parallelism = n
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example:
//
//	logger := pagecache.NewJSONLogger(slog.LevelDebug)
//	store := pagecache.NewReadThroughStore(inner, c, pagecache.WithLogger(logger))
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &pagecache.BasicMetricsCollector{}
//	store := pagecache.NewReadThroughStore(inner, c, pagecache.WithMetricsCollector(metrics))
//	// ... perform reads ...
//	stats := metrics.GetStats()
//	fmt.Printf("hit ratio: %.2f\n", stats.HitRatio)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceController shares a resource controller with the store. Its
// fetch slots bound concurrent backend requests and its IO limit throttles
// bytes fetched on cache misses.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithIOLimit throttles backend reads to bytesPerSec. It is ignored when a
// resource controller is configured; set the limit on the controller instead.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}
