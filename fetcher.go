package imgfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/imgfetch/cache"
	"github.com/meigma/imgfetch/cache/memory"
	imghttp "github.com/meigma/imgfetch/http"
	"github.com/meigma/imgfetch/source"
)

// Defaults for New.
const (
	// DefaultByteCacheSize bounds the in-memory byte cache used when no
	// cache is configured.
	DefaultByteCacheSize int64 = 32 << 20

	// DefaultPrewarmConcurrency is the number of parallel downloads PreWarm
	// runs.
	DefaultPrewarmConcurrency = 4
)

// Fetcher returns decoded images from a byte cache, downloading and storing
// them on a miss.
//
// A Fetcher is safe for concurrent use. Concurrent requests for the same key
// are independent unless [WithDeduplication] is set.
type Fetcher struct {
	cache    cache.Cache
	source   source.ByteSource
	decoder  Decoder
	executor Executor
	logger   *slog.Logger

	// Decoded-image tier, nil when disabled.
	images *otter.Cache[source.Key, *Image]

	dedupe   bool
	group    singleflight.Group
	watchers progressWatchers

	syncWrites bool
	writes     sync.WaitGroup

	prewarmConcurrency int
	meterProvider      metric.MeterProvider
	metrics            *fetchMetrics
}

// Result is the terminal state of an asynchronous fetch.
type Result struct {
	Image *Image
	Err   error
}

// New creates a Fetcher.
//
// Without [WithCache] the fetcher keeps bytes in an in-memory cache of
// [DefaultByteCacheSize]. Without [WithSource] it downloads over plain HTTP
// and cannot resolve storage references.
func New(opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		decoder:            DefaultDecoder,
		executor:           Inline,
		prewarmConcurrency: DefaultPrewarmConcurrency,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}
	if f.cache == nil {
		c, err := memory.New(DefaultByteCacheSize)
		if err != nil {
			return nil, err
		}
		f.cache = c
	}
	if f.source == nil {
		f.source = imghttp.New(imghttp.WithLogger(f.logger))
	}
	if f.meterProvider == nil {
		f.meterProvider = otel.GetMeterProvider()
	}
	m, err := newFetchMetrics(f.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	f.metrics = m
	return f, nil
}

// Fetch returns the decoded image for src.
//
// The byte cache is consulted first. A cache read error or an entry that no
// longer decodes is logged and treated as a miss. On a miss the source is
// asked for the bytes, which are decoded and written back to the cache. The
// write is issued before Fetch returns but completes in the background
// unless [WithSyncCacheWrites] is set.
//
// Progress fires zero or more times, always before Fetch returns. Errors
// match [ErrEmptySource], [ErrInvalidSource], [ErrSourceUnavailable],
// [ErrDecode] or the context error.
func (f *Fetcher) Fetch(ctx context.Context, src source.Descriptor, progress source.ProgressFunc) (*Image, error) {
	start := time.Now()
	img, outcome, err := f.fetch(ctx, src, progress)
	f.metrics.record(ctx, outcome, time.Since(start))
	return img, err
}

func (f *Fetcher) fetch(ctx context.Context, src source.Descriptor, progress source.ProgressFunc) (*Image, string, error) {
	if err := source.Validate(src); err != nil {
		return nil, outcomeFailed, err
	}
	key := source.DeriveKey(src)
	if key == "" {
		return nil, outcomeFailed, ErrEmptySource
	}
	if err := ctx.Err(); err != nil {
		return nil, outcomeCanceled, err
	}
	logger := f.logger.With("key", string(key))

	if f.images != nil {
		if img, ok := f.images.GetIfPresent(key); ok {
			return img, outcomeMemoryHit, nil
		}
	}

	if img, ok := f.fromCache(ctx, logger, key); ok {
		f.remember(key, img)
		return img, outcomeCacheHit, nil
	}

	data, err := f.download(ctx, key, src, progress)
	if err != nil {
		outcome, err := f.failure(ctx, logger, src, err)
		return nil, outcome, err
	}

	img, err := f.decoder.Decode(data)
	if err != nil {
		err = asDecodeError(err)
		logger.Warn("downloaded bytes are not an image", "source", src.String(), "error", err)
		return nil, outcomeFailed, err
	}

	f.store(ctx, logger, key, data)
	f.remember(key, img)
	return img, outcomeDownloaded, nil
}

func (f *Fetcher) failure(ctx context.Context, logger *slog.Logger, src source.Descriptor, err error) (string, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		logger.Debug("fetch canceled", "source", src.String())
		return outcomeCanceled, ctxErr
	}
	if !errors.Is(err, ErrSourceUnavailable) && !errors.Is(err, ErrInvalidSource) {
		err = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	logger.Warn("fetch failed", "source", src.String(), "error", err)
	return outcomeFailed, err
}

// fromCache looks key up in the byte cache and decodes the entry. Read
// errors and corrupt entries are reported as a miss.
func (f *Fetcher) fromCache(ctx context.Context, logger *slog.Logger, key source.Key) (*Image, bool) {
	data, ok, err := f.cache.Get(ctx, string(key))
	if err != nil {
		logger.Warn("cache lookup failed", "error", fmt.Errorf("%w: %v", ErrCacheRead, err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	img, err := f.decoder.Decode(data)
	if err != nil {
		logger.Warn("dropping corrupt cache entry", "error", fmt.Errorf("%w: %v", ErrCacheDecode, err))
		if d, ok := f.cache.(cache.Deleter); ok {
			if err := d.Delete(ctx, string(key)); err != nil {
				logger.Debug("delete corrupt cache entry", "error", err)
			}
		}
		return nil, false
	}
	return img, true
}

// download asks the source for the bytes of src. With deduplication,
// concurrent callers for one key share a single source call that is
// detached from any one caller's cancellation, and its progress reaches
// every caller still waiting on it.
func (f *Fetcher) download(ctx context.Context, key source.Key, src source.Descriptor, progress source.ProgressFunc) ([]byte, error) {
	progress, stop := gateProgress(progress)
	defer stop()

	if !f.dedupe {
		return f.source.Fetch(ctx, src, progress)
	}

	defer f.watchers.watch(key, progress)()
	ch := f.group.DoChan(string(key), func() (any, error) {
		return f.source.Fetch(context.WithoutCancel(ctx), src, f.watchers.report(key))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data, _ := res.Val.([]byte)
		return data, nil
	}
}

// gateProgress wraps fn so that no call can happen after stop returns.
func gateProgress(fn source.ProgressFunc) (source.ProgressFunc, func()) {
	if fn == nil {
		return nil, func() {}
	}
	var (
		mu     sync.Mutex
		closed bool
	)
	gated := func(done, total uint64) {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			fn(done, total)
		}
	}
	stop := func() {
		mu.Lock()
		closed = true
		mu.Unlock()
	}
	return gated, stop
}

// progressWatchers tracks the callers waiting on each shared download.
type progressWatchers struct {
	mu   sync.Mutex
	keys map[source.Key]map[*source.ProgressFunc]struct{}
}

// watch registers fn for the download of key and returns its removal.
func (w *progressWatchers) watch(key source.Key, fn source.ProgressFunc) func() {
	if fn == nil {
		return func() {}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keys == nil {
		w.keys = make(map[source.Key]map[*source.ProgressFunc]struct{})
	}
	if w.keys[key] == nil {
		w.keys[key] = make(map[*source.ProgressFunc]struct{})
	}
	id := &fn
	w.keys[key][id] = struct{}{}
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.keys[key], id)
		if len(w.keys[key]) == 0 {
			delete(w.keys, key)
		}
	}
}

// report returns a ProgressFunc that forwards to every watcher of key.
func (w *progressWatchers) report(key source.Key) source.ProgressFunc {
	return func(done, total uint64) {
		w.mu.Lock()
		fns := make([]source.ProgressFunc, 0, len(w.keys[key]))
		for id := range w.keys[key] {
			fns = append(fns, *id)
		}
		w.mu.Unlock()
		for _, fn := range fns {
			fn(done, total)
		}
	}
}

func (f *Fetcher) store(ctx context.Context, logger *slog.Logger, key source.Key, data []byte) {
	put := func(ctx context.Context) {
		if err := f.cache.Put(ctx, string(key), data); err != nil {
			logger.Warn("cache write failed", "error", err)
		}
	}
	if f.syncWrites {
		put(ctx)
		return
	}
	ctx = context.WithoutCancel(ctx)
	f.writes.Go(func() { put(ctx) })
}

func (f *Fetcher) remember(key source.Key, img *Image) {
	if f.images != nil {
		f.images.Set(key, img)
	}
}

// Flush waits for background cache writes issued so far.
func (f *Fetcher) Flush() {
	f.writes.Wait()
}

// Data returns the raw bytes for src through the byte cache without
// decoding them. On a miss the bytes are stored before Data returns.
func (f *Fetcher) Data(ctx context.Context, src source.Descriptor, progress source.ProgressFunc) ([]byte, error) {
	if err := source.Validate(src); err != nil {
		return nil, err
	}
	key := source.DeriveKey(src)
	if key == "" {
		return nil, ErrEmptySource
	}
	logger := f.logger.With("key", string(key))

	data, ok, err := f.cache.Get(ctx, string(key))
	switch {
	case err != nil:
		logger.Warn("cache lookup failed", "error", fmt.Errorf("%w: %v", ErrCacheRead, err))
	case ok:
		return data, nil
	}

	data, err = f.download(ctx, key, src, progress)
	if err != nil {
		_, err = f.failure(ctx, logger, src, err)
		return nil, err
	}
	if err := f.cache.Put(ctx, string(key), data); err != nil {
		logger.Warn("cache write failed", "error", err)
	}
	return data, nil
}

// Load fetches src in the background and delivers progress and the result
// through the fetcher's Executor. completion receives nil on any failure.
func (f *Fetcher) Load(ctx context.Context, src source.Descriptor, progress source.ProgressFunc, completion func(*Image)) {
	exec := f.executor
	if source.IsEmpty(src) {
		if completion != nil {
			exec.Execute(func() { completion(nil) })
		}
		return
	}

	var onProgress source.ProgressFunc
	if progress != nil {
		onProgress = func(done, total uint64) {
			exec.Execute(func() { progress(done, total) })
		}
	}
	go func() {
		img, _ := f.Fetch(ctx, src, onProgress)
		if completion != nil {
			exec.Execute(func() { completion(img) })
		}
	}()
}

// Go fetches src in the background. The returned channel receives exactly
// one Result and is then closed.
func (f *Fetcher) Go(ctx context.Context, src source.Descriptor, progress source.ProgressFunc) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		img, err := f.Fetch(ctx, src, progress)
		ch <- Result{Image: img, Err: err}
	}()
	return ch
}

// PreWarm downloads every source into the byte cache without decoding,
// running up to the configured number of downloads at once. Empty sources
// are skipped. A failing source does not stop the others; the first error
// is returned once every source has finished.
func (f *Fetcher) PreWarm(ctx context.Context, srcs ...source.Descriptor) error {
	var g errgroup.Group
	g.SetLimit(f.prewarmConcurrency)
	for _, src := range srcs {
		if source.IsEmpty(src) {
			continue
		}
		g.Go(func() error {
			if _, err := f.Data(ctx, src, nil); err != nil {
				return fmt.Errorf("prewarm %s: %w", src, err)
			}
			return nil
		})
	}
	return g.Wait()
}
