package oci_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imghttp "github.com/meigma/imgfetch/http"
	"github.com/meigma/imgfetch/oci"
	"github.com/meigma/imgfetch/source"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nnot a real png")

// fakeRegistry serves manifests and blobs for a single repository.
type fakeRegistry struct {
	repo      string
	manifests map[string][]byte
	blobs     map[digest.Digest][]byte
	user      string
	pass      string

	manifestRequests atomic.Int32
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.user != "" {
		u, p, ok := r.BasicAuth()
		if !ok || u != f.user || p != f.pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	prefix := "/v2/" + f.repo + "/"
	switch {
	case strings.HasPrefix(r.URL.Path, prefix+"manifests/"):
		f.manifestRequests.Add(1)
		body, ok := f.manifests[strings.TrimPrefix(r.URL.Path, prefix+"manifests/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.write(w, r, ocispec.MediaTypeImageManifest, body)
	case strings.HasPrefix(r.URL.Path, prefix+"blobs/"):
		body, ok := f.blobs[digest.Digest(strings.TrimPrefix(r.URL.Path, prefix+"blobs/"))]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.write(w, r, "application/octet-stream", body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeRegistry) write(w http.ResponseWriter, r *http.Request, mediaType string, body []byte) {
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Docker-Content-Digest", digest.FromBytes(body).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(body)
}

func manifestWith(t *testing.T, layers ...ocispec.Descriptor) []byte {
	t.Helper()
	m := ocispec.Manifest{
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.DescriptorEmptyJSON,
		Layers:    layers,
	}
	m.SchemaVersion = 2
	body, err := json.Marshal(m)
	require.NoError(t, err)
	return body
}

func layer(mediaType string, content []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(content),
		Size:      int64(len(content)),
	}
}

func newRegistry(t *testing.T, reg *fakeRegistry) (*httptest.Server, string) {
	t.Helper()
	server := httptest.NewServer(reg)
	t.Cleanup(server.Close)
	return server, strings.TrimPrefix(server.URL, "http://")
}

func newResolver(server *httptest.Server, opts ...oci.Option) *oci.Resolver {
	base := []oci.Option{oci.WithPlainHTTP(true), oci.WithHTTPClient(server.Client())}
	return oci.New(append(base, opts...)...)
}

func TestResolveDigest(t *testing.T) {
	t.Parallel()
	dgst := digest.FromBytes(pngBytes)
	reg := &fakeRegistry{repo: "acme/assets", blobs: map[digest.Digest][]byte{dgst: pngBytes}}
	server, host := newRegistry(t, reg)

	r := newResolver(server)
	loc, err := r.Resolve(context.Background(), source.StorageReference{Bucket: host + "/acme/assets", Path: dgst.String()})
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/v2/acme/assets/blobs/"+dgst.String(), loc.URL)
	assert.Equal(t, dgst, loc.Digest)
	assert.NotNil(t, loc.Client)
	assert.Equal(t, int32(0), reg.manifestRequests.Load())
}

func TestResolveTagPicksImageLayer(t *testing.T) {
	t.Parallel()
	other := []byte("license text")
	reg := &fakeRegistry{
		repo: "acme/assets",
		manifests: map[string][]byte{
			"v1": manifestWith(t, layer("text/plain", other), layer("image/png", pngBytes)),
		},
		blobs: map[digest.Digest][]byte{
			digest.FromBytes(other):    other,
			digest.FromBytes(pngBytes): pngBytes,
		},
	}
	server, host := newRegistry(t, reg)
	r := newResolver(server)

	ref := source.StorageReference{Bucket: host + "/acme/assets", Path: "v1"}
	loc, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(pngBytes), loc.Digest)

	// The full download path verifies the digest.
	data, err := imghttp.New(imghttp.WithResolver(r)).Fetch(context.Background(), ref, nil)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestResolveTagFallsBackToFirstLayer(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{
		repo: "acme/assets",
		manifests: map[string][]byte{
			"v1": manifestWith(t, layer(ocispec.MediaTypeImageLayer, pngBytes), layer("text/plain", []byte("x"))),
		},
	}
	server, host := newRegistry(t, reg)

	loc, err := newResolver(server).Resolve(context.Background(), source.StorageReference{Bucket: host + "/acme/assets", Path: "v1"})
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(pngBytes), loc.Digest)
}

func TestResolveTagWithoutLayers(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{
		repo:      "acme/assets",
		manifests: map[string][]byte{"v1": manifestWith(t)},
	}
	server, host := newRegistry(t, reg)

	_, err := newResolver(server).Resolve(context.Background(), source.StorageReference{Bucket: host + "/acme/assets", Path: "v1"})
	assert.ErrorIs(t, err, source.ErrUnavailable)
	assert.ErrorIs(t, err, oci.ErrNoImageLayer)
}

func TestResolveMissingTag(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{repo: "acme/assets"}
	server, host := newRegistry(t, reg)

	_, err := newResolver(server).Resolve(context.Background(), source.StorageReference{Bucket: host + "/acme/assets", Path: "missing"})
	assert.ErrorIs(t, err, source.ErrUnavailable)
}

func TestResolveInvalidReference(t *testing.T) {
	t.Parallel()

	_, err := oci.New().Resolve(context.Background(), source.StorageReference{Bucket: "not a registry", Path: "v1"})
	assert.ErrorIs(t, err, source.ErrInvalid)

	_, err = oci.New().Resolve(context.Background(), source.StorageReference{})
	assert.ErrorIs(t, err, source.ErrEmpty)
}

func TestResolveWithStaticCredentials(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{
		repo:      "acme/private",
		manifests: map[string][]byte{"v1": manifestWith(t, layer("image/png", pngBytes))},
		blobs:     map[digest.Digest][]byte{digest.FromBytes(pngBytes): pngBytes},
		user:      "robot",
		pass:      "hunter2",
	}
	server, host := newRegistry(t, reg)
	ref := source.StorageReference{Bucket: host + "/acme/private", Path: "v1"}

	anonymous := newResolver(server, oci.WithAnonymous())
	_, err := anonymous.Resolve(context.Background(), ref)
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrUnavailable))

	r := newResolver(server, oci.WithStaticCredentials(host, "robot", "hunter2"))
	data, err := imghttp.New(imghttp.WithResolver(r)).Fetch(context.Background(), ref, nil)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}
