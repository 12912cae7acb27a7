// Package s3 resolves storage references to presigned S3 GET URLs.
//
// A reference's Bucket is the S3 bucket and its Path the object key. The
// resolved URL carries its own signature, so the download itself needs no
// credentials.
package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	imghttp "github.com/meigma/imgfetch/http"
	"github.com/meigma/imgfetch/source"
)

const (
	// DefaultExpiry is the lifetime of a presigned URL.
	DefaultExpiry = 15 * time.Minute

	// DefaultCacheSize is the number of presigned URLs kept for reuse.
	DefaultCacheSize = 1024

	maxExpiry = 7 * 24 * time.Hour
)

// Presigner creates presigned GET URLs. *minio.Client satisfies it.
type Presigner interface {
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Interface compliance.
var (
	_ Presigner        = (*minio.Client)(nil)
	_ imghttp.Resolver = (*Resolver)(nil)
)

// Resolver turns storage references into presigned URLs.
//
// URLs are reused for half their lifetime so repeated downloads of one
// object do not re-sign on every request.
type Resolver struct {
	presigner Presigner
	expiry    time.Duration
	cacheSize int
	urls      *expirable.LRU[source.Key, string]
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithExpiry sets the presigned URL lifetime, between one second and seven
// days. Defaults to [DefaultExpiry].
func WithExpiry(d time.Duration) Option {
	return func(r *Resolver) {
		r.expiry = d
	}
}

// WithCacheSize sets how many presigned URLs are kept for reuse.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		r.cacheSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver backed by p.
func New(p Presigner, opts ...Option) (*Resolver, error) {
	if p == nil {
		return nil, errors.New("presigner is nil")
	}
	r := &Resolver{
		presigner: p,
		expiry:    DefaultExpiry,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.expiry < time.Second || r.expiry > maxExpiry {
		return nil, fmt.Errorf("presign expiry %s out of range [1s, 7d]", r.expiry)
	}
	if r.cacheSize < 1 {
		return nil, errors.New("cache size must be >= 1")
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	r.urls = expirable.NewLRU[source.Key, string](r.cacheSize, nil, r.expiry/2)
	return r, nil
}

// Resolve returns a presigned GET location for ref.
func (r *Resolver) Resolve(ctx context.Context, ref source.StorageReference) (imghttp.Location, error) {
	ref = ref.Normalized()
	if ref.IsZero() {
		return imghttp.Location{}, source.ErrEmpty
	}
	key := ref.Key()
	if u, ok := r.urls.Get(key); ok {
		return imghttp.Location{URL: u}, nil
	}

	u, err := r.presigner.PresignedGetObject(ctx, ref.Bucket, ref.Path, r.expiry, nil)
	if err != nil {
		return imghttp.Location{}, fmt.Errorf("%w: presign %s: %v", source.ErrUnavailable, key, err)
	}
	r.logger.Debug("presigned object url", "key", string(key), "expiry", r.expiry)

	r.urls.Add(key, u.String())
	return imghttp.Location{URL: u.String()}, nil
}

// Config describes an S3-compatible endpoint.
type Config struct {
	// Endpoint is host[:port] without scheme, for example "s3.amazonaws.com".
	Endpoint string

	AccessKey string
	SecretKey string

	// Region skips the bucket location lookup when set.
	Region string

	// UseSSL selects https.
	UseSSL bool

	// Expiry overrides [DefaultExpiry] when positive.
	Expiry time.Duration
}

// NewFromConfig creates a Resolver with a minio client for cfg.
func NewFromConfig(cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint is empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	if cfg.Expiry > 0 {
		opts = append([]Option{WithExpiry(cfg.Expiry)}, opts...)
	}
	return New(client, opts...)
}
