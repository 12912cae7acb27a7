// Package config loads process-level settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Storage types accepted by IMGFETCH_STORAGE.
const (
	StorageNone = ""
	StorageS3   = "s3"
	StorageOCI  = "oci"
)

// Config is the complete process configuration, read from IMGFETCH_*
// environment variables.
type Config struct {
	Cache   CacheConfig
	Fetch   FetchConfig
	HTTP    HTTPConfig
	Storage StorageConfig
}

// CacheConfig configures the byte cache and the decoded-image tier.
type CacheConfig struct {
	// Dir is the disk cache root. Empty selects the user cache directory.
	Dir string `env:"IMGFETCH_CACHE_DIR"`

	// MaxBytes limits the disk cache. 0 disables the limit.
	MaxBytes int64 `env:"IMGFETCH_CACHE_MAX_BYTES, default=268435456"`

	// Compression stores disk entries as zstd frames.
	Compression bool `env:"IMGFETCH_CACHE_COMPRESSION, default=false"`

	// MemoryMaxBytes bounds decoded images kept in memory. 0 disables it.
	MemoryMaxBytes int64 `env:"IMGFETCH_MEMORY_CACHE_MAX_BYTES, default=67108864"`
}

// FetchConfig tunes the fetch pipeline.
type FetchConfig struct {
	// Deduplicate shares one download among concurrent requests for a key.
	Deduplicate bool `env:"IMGFETCH_DEDUPLICATE, default=false"`
}

// HTTPConfig configures the HTTP byte source.
type HTTPConfig struct {
	Timeout       time.Duration `env:"IMGFETCH_HTTP_TIMEOUT, default=30s"`
	UserAgent     string        `env:"IMGFETCH_USER_AGENT, default=imgfetch/1.0"`
	MaxImageBytes int64         `env:"IMGFETCH_MAX_IMAGE_BYTES, default=33554432"`
}

// StorageConfig selects how storage references are resolved.
type StorageConfig struct {
	// Type is "s3", "oci" or empty, in which case storage references
	// cannot be fetched.
	Type string `env:"IMGFETCH_STORAGE"`

	S3  S3Config
	OCI OCIConfig
}

// S3Config configures presigned downloads from an S3-compatible endpoint.
// Endpoint is required when the storage type is "s3".
type S3Config struct {
	Endpoint      string        `env:"IMGFETCH_S3_ENDPOINT"`
	AccessKey     string        `env:"IMGFETCH_S3_ACCESS_KEY"`
	SecretKey     string        `env:"IMGFETCH_S3_SECRET_KEY"`
	Region        string        `env:"IMGFETCH_S3_REGION"`
	UseSSL        bool          `env:"IMGFETCH_S3_USE_SSL, default=true"`
	PresignExpiry time.Duration `env:"IMGFETCH_S3_PRESIGN_EXPIRY, default=15m"`
}

// OCIConfig configures blob downloads from OCI registries.
type OCIConfig struct {
	// PlainHTTP talks to registries without TLS.
	PlainHTTP bool `env:"IMGFETCH_OCI_PLAIN_HTTP, default=false"`

	// DockerConfig reads registry credentials from the docker config file.
	DockerConfig bool `env:"IMGFETCH_OCI_DOCKER_CONFIG, default=true"`
}

// Load reads the configuration from the process environment and validates
// it.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and storage settings.
func (c *Config) Validate() error {
	if c.Cache.MaxBytes < 0 {
		return errors.New("IMGFETCH_CACHE_MAX_BYTES must be >= 0")
	}
	if c.Cache.MemoryMaxBytes < 0 {
		return errors.New("IMGFETCH_MEMORY_CACHE_MAX_BYTES must be >= 0")
	}
	if c.HTTP.MaxImageBytes < 0 {
		return errors.New("IMGFETCH_MAX_IMAGE_BYTES must be >= 0")
	}
	if c.HTTP.Timeout < 0 {
		return errors.New("IMGFETCH_HTTP_TIMEOUT must be >= 0")
	}

	switch c.Storage.Type {
	case StorageNone, StorageOCI:
	case StorageS3:
		if c.Storage.S3.Endpoint == "" {
			return errors.New("IMGFETCH_S3_ENDPOINT required when IMGFETCH_STORAGE=s3")
		}
	default:
		return fmt.Errorf("unknown IMGFETCH_STORAGE %q", c.Storage.Type)
	}
	return nil
}

// Directory returns the disk cache root, defaulting to "imgfetch" under the
// user cache directory.
func (c CacheConfig) Directory() (string, error) {
	if c.Dir != "" {
		return c.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache dir: %w", err)
	}
	return filepath.Join(base, "imgfetch"), nil
}
