package imgfetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/meigma/imgfetch/cache"
	"github.com/meigma/imgfetch/cache/disk"
	imghttp "github.com/meigma/imgfetch/http"
	"github.com/meigma/imgfetch/internal/config"
	"github.com/meigma/imgfetch/oci"
	"github.com/meigma/imgfetch/s3"
	"github.com/meigma/imgfetch/source"
)

var defaultFetcher = sync.OnceValue(func() *Fetcher {
	f, err := NewFromEnv(context.Background())
	if err == nil {
		return f
	}
	slog.Default().Warn("imgfetch: environment configuration failed, using in-memory defaults", "error", err)
	f, err = New()
	if err != nil {
		// New without options only fails on invalid built-in defaults.
		panic(fmt.Sprintf("imgfetch: build default fetcher: %v", err))
	}
	return f
})

// Default returns the process-wide Fetcher, built from the environment on
// first use. If the environment is invalid it falls back to an in-memory
// byte cache and plain HTTP. The default Fetcher is never torn down.
func Default() *Fetcher {
	return defaultFetcher()
}

// NewFromEnv builds a Fetcher from IMGFETCH_* environment variables: a disk
// byte cache, an HTTP source and, when IMGFETCH_STORAGE is set, an S3 or OCI
// resolver for storage references. opts are applied last.
func NewFromEnv(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	return newFromConfig(cfg, opts...)
}

func newFromConfig(cfg config.Config, opts ...Option) (*Fetcher, error) {
	dir, err := cfg.Cache.Directory()
	if err != nil {
		return nil, err
	}
	diskOpts := []disk.Option{disk.WithMaxBytes(cfg.Cache.MaxBytes)}
	if cfg.Cache.Compression {
		diskOpts = append(diskOpts, disk.WithCompression())
	}
	dc, err := disk.New(dir, diskOpts...)
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}

	srcOpts := []imghttp.Option{
		imghttp.WithClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		imghttp.WithUserAgent(cfg.HTTP.UserAgent),
		imghttp.WithMaxBytes(cfg.HTTP.MaxImageBytes),
	}
	resolver, err := newResolver(cfg.Storage, cfg.HTTP)
	if err != nil {
		return nil, err
	}
	if resolver != nil {
		srcOpts = append(srcOpts, imghttp.WithResolver(resolver))
	}

	base := []Option{
		WithCache(cache.NewInstrumented(dc, "disk")),
		WithSource(imghttp.New(srcOpts...)),
	}
	if cfg.Fetch.Deduplicate {
		base = append(base, WithDeduplication())
	}
	if cfg.Cache.MemoryMaxBytes > 0 {
		base = append(base, WithMemoryCache(cfg.Cache.MemoryMaxBytes))
	}
	return New(append(base, opts...)...)
}

func newResolver(cfg config.StorageConfig, httpCfg config.HTTPConfig) (imghttp.Resolver, error) {
	switch cfg.Type {
	case config.StorageS3:
		r, err := s3.NewFromConfig(s3.Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
			Expiry:    cfg.S3.PresignExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("configure s3 storage: %w", err)
		}
		return r, nil
	case config.StorageOCI:
		opts := []oci.Option{
			oci.WithPlainHTTP(cfg.OCI.PlainHTTP),
			oci.WithUserAgent(httpCfg.UserAgent),
		}
		if cfg.OCI.DockerConfig {
			opts = append(opts, oci.WithDockerConfig())
		}
		return oci.New(opts...), nil
	default:
		return nil, nil
	}
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying f.
func NewContext(ctx context.Context, f *Fetcher) context.Context {
	return context.WithValue(ctx, contextKey{}, f)
}

// FromContext returns the Fetcher carried by ctx, or Default.
func FromContext(ctx context.Context) *Fetcher {
	if f, ok := ctx.Value(contextKey{}).(*Fetcher); ok && f != nil {
		return f
	}
	return Default()
}

// Fetch fetches src with the Fetcher from ctx.
func Fetch(ctx context.Context, src source.Descriptor, progress source.ProgressFunc) (*Image, error) {
	return FromContext(ctx).Fetch(ctx, src, progress)
}

// Bind binds slot to src with the Fetcher from ctx.
func Bind(ctx context.Context, slot *Slot, src source.Descriptor, opts ...BindOption) {
	FromContext(ctx).Bind(ctx, slot, src, opts...)
}
