package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Key
	}{
		{name: "plain", raw: "https://example.com/a.png", want: "https://example.com/a.png"},
		{name: "uppercase host", raw: "HTTPS://Example.COM/a.png", want: "https://example.com/a.png"},
		{name: "default https port", raw: "https://example.com:443/a.png", want: "https://example.com/a.png"},
		{name: "default http port", raw: "http://example.com:80/a.png", want: "http://example.com/a.png"},
		{name: "non default port", raw: "http://example.com:8080/a.png", want: "http://example.com:8080/a.png"},
		{name: "fragment dropped", raw: "https://example.com/a.png#top", want: "https://example.com/a.png"},
		{name: "query kept", raw: "https://example.com/a.png?w=10", want: "https://example.com/a.png?w=10"},
		{name: "empty path", raw: "https://example.com", want: "https://example.com/"},
		{name: "whitespace", raw: "  https://example.com/a.png ", want: "https://example.com/a.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			u, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, DeriveKey(u))
		})
	}
}

func TestParseURLRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "/relative/a.png", "ftp://example.com/a.png", "https://", "://bad"} {
		_, err := ParseURL(raw)
		assert.ErrorIs(t, err, ErrInvalid, "raw=%q", raw)
	}
	_, err := FromURL(nil)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestStorageReferenceKey(t *testing.T) {
	t.Parallel()

	ref := StorageReference{Bucket: "bucket", Path: "a.png"}
	assert.Equal(t, Key("bucket/a.png"), DeriveKey(ref))

	same := StorageReference{Bucket: "bucket/", Path: "/a.png"}
	assert.Equal(t, DeriveKey(ref), DeriveKey(same))
	assert.Equal(t, ref, same.Normalized())

	nested := StorageReference{Bucket: "ghcr.io/acme/assets", Path: "sha256:abc"}
	assert.Equal(t, Key("ghcr.io/acme/assets/sha256:abc"), nested.Key())
}

func TestStorageReferenceRejectsURLBucket(t *testing.T) {
	t.Parallel()

	u := MustParseURL("https://example.com/a.png")
	for _, bucket := range []string{"https://example.com", "https://example.com/", "http://example.com"} {
		ref := StorageReference{Bucket: bucket, Path: "a.png"}
		require.ErrorIs(t, Validate(ref), ErrInvalid, "bucket=%q", bucket)
		assert.False(t, IsEmpty(ref))
		assert.Equal(t, Key(""), DeriveKey(ref))
		assert.NotEqual(t, u.Key(), DeriveKey(ref))
	}

	assert.NoError(t, Validate(StorageReference{Bucket: "ghcr.io/acme/assets", Path: "sha256:abc"}))
	assert.NoError(t, Validate(StorageReference{Bucket: "b", Path: "x://y"}))
	assert.NoError(t, Validate(u))
	assert.NoError(t, Validate(nil))
}

func TestDeriveKeyIsPure(t *testing.T) {
	t.Parallel()

	a := MustParseURL("https://Example.com:443/img/a.png#x")
	b := MustParseURL("https://example.com/img/a.png")
	for range 3 {
		assert.Equal(t, DeriveKey(a), DeriveKey(b))
	}
}

func TestEmptyDescriptors(t *testing.T) {
	t.Parallel()

	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(URL{}))
	assert.True(t, IsEmpty(StorageReference{}))
	assert.True(t, IsEmpty(StorageReference{Bucket: "b"}))
	assert.True(t, IsEmpty(StorageReference{Path: "p"}))
	assert.False(t, IsEmpty(StorageReference{Bucket: "b", Path: "p"}))
	assert.Equal(t, Key(""), DeriveKey(nil))
	assert.Equal(t, Key(""), DeriveKey(URL{}))
}

func TestURLRoundTrip(t *testing.T) {
	t.Parallel()

	u := MustParseURL("https://example.com/a.png?x=1")
	parsed := u.URL()
	require.NotNil(t, parsed)
	assert.Equal(t, "example.com", parsed.Host)
	assert.Equal(t, "x=1", parsed.RawQuery)
	assert.Equal(t, u.String(), parsed.String())
}

func TestMustParseURLPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { MustParseURL("not a url") })
}
