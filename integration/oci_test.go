//go:build integration

package integration

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imgfetch"
	"github.com/meigma/imgfetch/oci"
)

func TestOCIFetchByTag(t *testing.T) {
	t.Parallel()
	addr := getRegistry(t)
	ctx := context.Background()

	repo := testRepo(addr, "fetch-by-tag")
	data := testPNG(t, 5, 4, color.RGBA{G: 255, A: 255})
	pushImage(t, repo, "v1", data)

	f := newFetcher(t, oci.New(oci.WithPlainHTTP(true), oci.WithAnonymous()))
	img, err := f.Fetch(ctx, imgfetch.StorageReference{Bucket: repo, Path: "v1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, len(data), img.Size)
}

func TestOCIFetchByDigest(t *testing.T) {
	t.Parallel()
	addr := getRegistry(t)
	ctx := context.Background()

	repo := testRepo(addr, "fetch-by-digest")
	data := testPNG(t, 2, 2, color.Black)
	layer := pushImage(t, repo, "v1", data)

	var reported uint64
	f := newFetcher(t, oci.New(oci.WithPlainHTTP(true), oci.WithAnonymous()))
	img, err := f.Fetch(ctx, imgfetch.StorageReference{Bucket: repo, Path: layer.Digest.String()}, func(done, _ uint64) {
		reported = done
	})
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, uint64(len(data)), reported)
}

func TestOCIMissingTag(t *testing.T) {
	t.Parallel()
	addr := getRegistry(t)

	f := newFetcher(t, oci.New(oci.WithPlainHTTP(true), oci.WithAnonymous()))
	_, err := f.Fetch(context.Background(), imgfetch.StorageReference{Bucket: testRepo(addr, "missing"), Path: "nope"}, nil)
	require.ErrorIs(t, err, imgfetch.ErrSourceUnavailable)
}

func TestOCIFromEnvironment(t *testing.T) {
	addr := getRegistry(t)
	t.Setenv("IMGFETCH_CACHE_DIR", t.TempDir())
	t.Setenv("IMGFETCH_STORAGE", "oci")
	t.Setenv("IMGFETCH_OCI_PLAIN_HTTP", "true")
	t.Setenv("IMGFETCH_OCI_DOCKER_CONFIG", "false")

	repo := testRepo(addr, "from-env")
	pushImage(t, repo, "latest", testPNG(t, 3, 3, color.White))

	f, err := imgfetch.NewFromEnv(context.Background())
	require.NoError(t, err)
	img, err := f.Fetch(context.Background(), imgfetch.StorageReference{Bucket: repo, Path: "latest"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dy())
}
