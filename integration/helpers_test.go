//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/meigma/imgfetch"
	"github.com/meigma/imgfetch/cache/memory"
	imghttp "github.com/meigma/imgfetch/http"
)

const (
	minioUser     = "imgfetch"
	minioPassword = "imgfetch-secret"
	minioRegion   = "us-east-1"
)

// --- Container Setup ---

var (
	registryOnce sync.Once
	registryAddr string
	registryErr  error

	minioOnce     sync.Once
	minioEndpoint string
	minioErr      error
)

func skipWithoutDocker(tb testing.TB) {
	tb.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
}

// getRegistry returns the shared registry address, starting the container if needed.
func getRegistry(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	registryOnce.Do(func() {
		registryAddr, registryErr = startContainer(context.Background(), testcontainers.ContainerRequest{
			Image:        "registry:2",
			ExposedPorts: []string{"5000/tcp"},
			WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "5000/tcp")
	})
	if registryErr != nil {
		tb.Fatalf("start registry container: %v", registryErr)
	}
	return registryAddr
}

// getMinio returns the shared MinIO endpoint, starting the container if needed.
func getMinio(tb testing.TB) string {
	tb.Helper()
	skipWithoutDocker(tb)

	minioOnce.Do(func() {
		minioEndpoint, minioErr = startContainer(context.Background(), testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "9000/tcp")
	})
	if minioErr != nil {
		tb.Fatalf("start minio container: %v", minioErr)
	}
	return minioEndpoint
}

// startContainer starts req and returns the host:port mapped to port.
// Container cleanup is handled by the testcontainers reaper.
func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve host: %w", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", fmt.Errorf("resolve port: %w", err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// --- Fixtures ---

// testPNG encodes a w x h image filled with c.
func testPNG(tb testing.TB, w, h int, c color.Color) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(tb, png.Encode(&buf, img))
	return buf.Bytes()
}

// testRepo generates a unique repository for a test to avoid collisions.
func testRepo(registryAddr, testName string) string {
	return fmt.Sprintf("%s/test/%s", registryAddr, testName)
}

// pushImage pushes data as the only layer of an artifact tagged tag and
// returns the layer descriptor.
func pushImage(tb testing.TB, repoName, tag string, data []byte) ocispec.Descriptor {
	tb.Helper()
	ctx := context.Background()

	repo, err := remote.NewRepository(repoName)
	require.NoError(tb, err)
	repo.PlainHTTP = true

	layer := content.NewDescriptorFromBytes("image/png", data)
	require.NoError(tb, repo.Push(ctx, layer, bytes.NewReader(data)), "push layer")

	manifest, err := oras.PackManifest(ctx, repo, oras.PackManifestVersion1_1, "application/vnd.imgfetch.image", oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{layer},
	})
	require.NoError(tb, err, "pack manifest")
	require.NoError(tb, repo.Tag(ctx, manifest, tag), "tag manifest")
	return layer
}

// putObject uploads data to bucket/key, creating the bucket if needed.
func putObject(tb testing.TB, endpoint, bucket, key string, data []byte) {
	tb.Helper()
	ctx := context.Background()

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioUser, minioPassword, ""),
		Region: minioRegion,
	})
	require.NoError(tb, err)

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(tb, err)
	if !exists {
		require.NoError(tb, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: minioRegion}))
	}
	_, err = client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	require.NoError(tb, err, "put object")
}

// newFetcher creates a fetcher with an in-memory byte cache that resolves
// storage references with resolver.
func newFetcher(tb testing.TB, resolver imghttp.Resolver, opts ...imgfetch.Option) *imgfetch.Fetcher {
	tb.Helper()
	c, err := memory.New(64 << 20)
	require.NoError(tb, err)

	base := []imgfetch.Option{
		imgfetch.WithCache(c),
		imgfetch.WithSource(imghttp.New(imghttp.WithResolver(resolver))),
		imgfetch.WithSyncCacheWrites(),
	}
	f, err := imgfetch.New(append(base, opts...)...)
	require.NoError(tb, err, "create fetcher")
	return f
}
