package http

import (
	"context"
	nethttp "net/http"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/imgfetch/source"
)

// Location is a retrievable address for a storage reference.
type Location struct {
	// URL is fetched with a GET request.
	URL string

	// Header is added to the request, overriding Source-wide headers.
	Header nethttp.Header

	// Client, when set, replaces the Source client for this request, for
	// example to attach registry authentication.
	Client *nethttp.Client

	// Digest, when set, is verified against the downloaded bytes.
	Digest digest.Digest
}

// Resolver turns a storage reference into a Location.
type Resolver interface {
	Resolve(ctx context.Context, ref source.StorageReference) (Location, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, ref source.StorageReference) (Location, error)

// Resolve calls fn.
func (fn ResolverFunc) Resolve(ctx context.Context, ref source.StorageReference) (Location, error) {
	return fn(ctx, ref)
}
