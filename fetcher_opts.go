package imgfetch

import (
	"errors"
	"log/slog"

	"github.com/maypok86/otter/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/meigma/imgfetch/cache"
	"github.com/meigma/imgfetch/source"
)

// Option configures a Fetcher.
type Option func(*Fetcher) error

// WithCache sets the byte cache.
func WithCache(c cache.Cache) Option {
	return func(f *Fetcher) error {
		if c == nil {
			return errors.New("cache is nil")
		}
		f.cache = c
		return nil
	}
}

// WithSource sets the byte source used on a cache miss.
func WithSource(s source.ByteSource) Option {
	return func(f *Fetcher) error {
		if s == nil {
			return errors.New("source is nil")
		}
		f.source = s
		return nil
	}
}

// WithDecoder replaces [DefaultDecoder].
func WithDecoder(d Decoder) Option {
	return func(f *Fetcher) error {
		if d == nil {
			return errors.New("decoder is nil")
		}
		f.decoder = d
		return nil
	}
}

// WithExecutor sets where [Fetcher.Load] and [Fetcher.Bind] deliver
// callbacks. Defaults to [Inline].
func WithExecutor(e Executor) Option {
	return func(f *Fetcher) error {
		if e == nil {
			return errors.New("executor is nil")
		}
		f.executor = e
		return nil
	}
}

// WithLogger sets the logger for fetch events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) error {
		f.logger = logger
		return nil
	}
}

// WithDeduplication shares one source download among concurrent misses for
// the same key. Every caller waiting on the shared download receives its
// progress from the moment it joins.
func WithDeduplication() Option {
	return func(f *Fetcher) error {
		f.dedupe = true
		return nil
	}
}

// WithMemoryCache keeps decoded images in memory, bounded by their
// estimated pixel size in bytes.
func WithMemoryCache(maxBytes int64) Option {
	return func(f *Fetcher) error {
		if maxBytes <= 0 {
			return errors.New("memory cache size must be > 0")
		}
		images, err := otter.New(&otter.Options[source.Key, *Image]{
			MaximumWeight: uint64(maxBytes),
			Weigher: func(_ source.Key, img *Image) uint32 {
				return img.weight()
			},
		})
		if err != nil {
			return err
		}
		f.images = images
		return nil
	}
}

// WithSyncCacheWrites makes Fetch wait for the cache write of downloaded
// bytes before returning.
func WithSyncCacheWrites() Option {
	return func(f *Fetcher) error {
		f.syncWrites = true
		return nil
	}
}

// WithPrewarmConcurrency sets the number of parallel downloads run by
// [Fetcher.PreWarm]. Defaults to [DefaultPrewarmConcurrency].
func WithPrewarmConcurrency(n int) Option {
	return func(f *Fetcher) error {
		if n < 1 {
			return errors.New("prewarm concurrency must be >= 1")
		}
		f.prewarmConcurrency = n
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider.
// Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(f *Fetcher) error {
		f.meterProvider = mp
		return nil
	}
}
