package s3

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imgfetch/source"
)

type countingPresigner struct {
	calls atomic.Int32
	err   error
}

func (p *countingPresigner) PresignedGetObject(_ context.Context, bucket, object string, expires time.Duration, _ url.Values) (*url.URL, error) {
	n := p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return &url.URL{
		Scheme:   "https",
		Host:     "s3.example.com",
		Path:     "/" + bucket + "/" + object,
		RawQuery: url.Values{"X-Amz-Expires": {expires.String()}, "n": {strconv.Itoa(int(n))}}.Encode(),
	}, nil
}

func TestResolveCachesPresignedURL(t *testing.T) {
	t.Parallel()
	p := &countingPresigner{}
	r, err := New(p)
	require.NoError(t, err)

	ref := source.StorageReference{Bucket: "bucket", Path: "a.png"}
	first, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), source.StorageReference{Bucket: "bucket/", Path: "/a.png"})
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, int32(1), p.calls.Load())

	u, err := url.Parse(first.URL)
	require.NoError(t, err)
	assert.Equal(t, "/bucket/a.png", u.Path)
}

func TestResolveDistinctObjects(t *testing.T) {
	t.Parallel()
	p := &countingPresigner{}
	r, err := New(p)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), source.StorageReference{Bucket: "bucket", Path: "a.png"})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), source.StorageReference{Bucket: "bucket", Path: "b.png"})
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.calls.Load())
}

func TestResolvePresignError(t *testing.T) {
	t.Parallel()
	r, err := New(&countingPresigner{err: errors.New("access denied")})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), source.StorageReference{Bucket: "bucket", Path: "a.png"})
	assert.ErrorIs(t, err, source.ErrUnavailable)
}

func TestResolveEmptyReference(t *testing.T) {
	t.Parallel()
	r, err := New(&countingPresigner{})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), source.StorageReference{Bucket: "bucket"})
	assert.ErrorIs(t, err, source.ErrEmpty)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&countingPresigner{}, WithExpiry(0))
	assert.Error(t, err)
	_, err = New(&countingPresigner{}, WithExpiry(8*24*time.Hour))
	assert.Error(t, err)
	_, err = New(&countingPresigner{}, WithCacheSize(0))
	assert.Error(t, err)
}

func TestNewFromConfigPresignsLocally(t *testing.T) {
	t.Parallel()

	// With a region set, presigning needs no network round trip.
	r, err := NewFromConfig(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
		Expiry:    time.Minute,
	})
	require.NoError(t, err)

	loc, err := r.Resolve(context.Background(), source.StorageReference{Bucket: "images", Path: "cats/a.png"})
	require.NoError(t, err)

	u, err := url.Parse(loc.URL)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/images/cats/a.png", u.Path)
	assert.Equal(t, "60", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestNewFromConfigRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewFromConfig(Config{})
	assert.Error(t, err)
}
