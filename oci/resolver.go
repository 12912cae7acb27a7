// Package oci resolves storage references to blobs in OCI registries.
//
// A reference's Bucket is "<registry>/<repository>" and its Path is either
// a blob digest or a tag. A digest addresses the image blob directly. A tag
// names an image manifest whose first image/* layer, or else its first
// layer, holds the image bytes.
package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"

	imghttp "github.com/meigma/imgfetch/http"
	"github.com/meigma/imgfetch/source"
)

const (
	defaultUserAgent = "imgfetch/1.0"

	// maxManifestBytes bounds the manifest read when resolving a tag.
	maxManifestBytes = 4 << 20

	mediaTypeDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"
)

// ErrNoImageLayer is returned when a tagged manifest has no layers.
var ErrNoImageLayer = errors.New("oci: manifest has no layers")

// Resolver turns storage references into registry blob locations.
//
// The returned Location carries an HTTP client that performs registry
// authentication and the blob digest, which the download verifies.
type Resolver struct {
	plainHTTP  bool
	userAgent  string
	anonymous  bool
	credStore  credentials.Store
	baseClient *http.Client
	authClient *auth.Client
	logger     *slog.Logger
}

// Interface compliance.
var _ imghttp.Resolver = (*Resolver)(nil)

// New creates a Resolver.
//
// If no credentials are configured, anonymous access is used.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		userAgent:  defaultUserAgent,
		baseClient: retry.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}

	// Shared auth client so tokens are reused across requests.
	r.authClient = &auth.Client{
		Client: r.baseClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if r.anonymous || r.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return r.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{r.userAgent},
		},
	}
	return r
}

// Resolve returns the blob location for ref.
func (r *Resolver) Resolve(ctx context.Context, ref source.StorageReference) (imghttp.Location, error) {
	regRef, err := parseRef(ref)
	if err != nil {
		return imghttp.Location{}, err
	}

	dgst, err := regRef.Digest()
	if err != nil {
		dgst, err = r.imageLayer(ctx, regRef)
		if err != nil {
			return imghttp.Location{}, err
		}
		r.logger.Debug("resolved tag to image layer", "reference", regRef.String(), "digest", dgst.String())
	}

	return imghttp.Location{
		URL:    r.blobURL(regRef, dgst),
		Client: r.client(regRef),
		Digest: dgst,
	}, nil
}

// parseRef maps a storage reference onto a registry reference. Paths that
// parse as digests are digest references, anything else is a tag.
func parseRef(ref source.StorageReference) (registry.Reference, error) {
	ref = ref.Normalized()
	if ref.IsZero() {
		return registry.Reference{}, source.ErrEmpty
	}
	raw := ref.Bucket + ":" + ref.Path
	if _, err := digest.Parse(ref.Path); err == nil {
		raw = ref.Bucket + "@" + ref.Path
	}
	regRef, err := registry.ParseReference(raw)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %v", source.ErrInvalid, err)
	}
	return regRef, nil
}

func (r *Resolver) repository(regRef registry.Reference) *remote.Repository {
	return &remote.Repository{
		Reference: regRef,
		PlainHTTP: r.plainHTTP,
		Client:    r.authClient,
	}
}

// imageLayer fetches the manifest for a tag and picks the image layer.
func (r *Resolver) imageLayer(ctx context.Context, regRef registry.Reference) (digest.Digest, error) {
	repo := r.repository(regRef)
	desc, rc, err := repo.FetchReference(ctx, regRef.Reference)
	if err != nil {
		return "", mapError(regRef, err)
	}
	defer rc.Close()

	switch desc.MediaType {
	case ocispec.MediaTypeImageManifest, mediaTypeDockerManifest:
	default:
		return "", fmt.Errorf("%w: %s: unsupported manifest media type %q", source.ErrUnavailable, regRef, desc.MediaType)
	}

	body, err := io.ReadAll(io.LimitReader(rc, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read manifest %s: %v", source.ErrUnavailable, regRef, err)
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return "", fmt.Errorf("%w: decode manifest %s: %v", source.ErrUnavailable, regRef, err)
	}
	layer, err := pickLayer(manifest.Layers)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", source.ErrUnavailable, regRef, err)
	}
	return layer.Digest, nil
}

func pickLayer(layers []ocispec.Descriptor) (ocispec.Descriptor, error) {
	if len(layers) == 0 {
		return ocispec.Descriptor{}, ErrNoImageLayer
	}
	for _, l := range layers {
		if strings.HasPrefix(l.MediaType, "image/") {
			return l, nil
		}
	}
	return layers[0], nil
}

// blobURL builds <scheme>://<registry>/v2/<repository>/blobs/<digest>.
func (r *Resolver) blobURL(regRef registry.Reference, dgst digest.Digest) string {
	scheme := "https"
	if r.plainHTTP {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/v2/%s/blobs/%s", scheme, regRef.Host(), regRef.Repository, dgst)
}

// client returns an HTTP client that authenticates with pull scope on the
// reference's repository.
func (r *Resolver) client(regRef registry.Reference) *http.Client {
	return &http.Client{
		Transport: &authTransport{client: r.authClient, ref: regRef},
	}
}

// authTransport adds repository pull scope to each request and delegates to
// the auth client, which handles token exchange.
type authTransport struct {
	client *auth.Client
	ref    registry.Reference
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := auth.AppendRepositoryScope(req.Context(), t.ref, auth.ActionPull)
	req = req.Clone(ctx)
	return t.client.Do(req)
}

func mapError(regRef registry.Reference, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %s: not found", source.ErrUnavailable, regRef)
	}
	return fmt.Errorf("%w: %s: %v", source.ErrUnavailable, regRef, err)
}
