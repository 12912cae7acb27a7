// Package source describes where an image comes from.
//
// A [Descriptor] names a remote image either by URL ([URL]) or by a storage
// location ([StorageReference]). Every descriptor maps to a [Key], the sole
// index used by caches. Two descriptors naming the same resource always map
// to the same key.
package source

import (
	"fmt"
	"net/url"
	"strings"
)

// Key is the canonical identity of a cacheable image resource.
type Key string

// String returns the key as a string.
func (k Key) String() string {
	return string(k)
}

// Descriptor identifies a remote image.
type Descriptor interface {
	// Key returns the cache key for the resource. The zero descriptor
	// returns the empty key.
	Key() Key

	// String returns a human-readable form for logs.
	String() string

	// IsZero reports whether the descriptor names nothing.
	IsZero() bool
}

// Interface compliance.
var (
	_ Descriptor = URL{}
	_ Descriptor = StorageReference{}
)

// DeriveKey returns the cache key for d. A nil or zero descriptor yields
// the empty key.
func DeriveKey(d Descriptor) Key {
	if IsEmpty(d) {
		return ""
	}
	return d.Key()
}

// IsEmpty reports whether d is nil or names nothing.
func IsEmpty(d Descriptor) bool {
	return d == nil || d.IsZero()
}

// Validate reports whether d is well formed. Descriptors without rules of
// their own, and nil, are valid.
func Validate(d Descriptor) error {
	if v, ok := d.(interface{ Validate() error }); ok {
		return v.Validate()
	}
	return nil
}

// URL is a descriptor for an image reachable at an absolute http(s) URL.
// The zero value is the empty source.
type URL struct {
	normalized string
}

// ParseURL parses and normalizes an absolute http or https URL.
func ParseURL(raw string) (URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return URL{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return FromURL(u)
}

// MustParseURL is like ParseURL but panics on error. It is intended for
// tests and static initialization.
func MustParseURL(raw string) URL {
	u, err := ParseURL(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// FromURL normalizes u into a descriptor.
//
// Normalization lowercases the scheme and host, drops the default port and
// the fragment, and turns an empty path into "/". The query is kept as is.
func FromURL(u *url.URL) (URL, error) {
	if u == nil {
		return URL{}, fmt.Errorf("%w: nil url", ErrInvalid)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return URL{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
	}
	if u.Host == "" {
		return URL{}, fmt.Errorf("%w: url %q is not absolute", ErrInvalid, u.String())
	}

	n := *u
	n.Scheme = scheme
	n.Host = normalizeHost(scheme, u.Host)
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return URL{normalized: n.String()}, nil
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// Key returns the normalized URL string.
func (u URL) Key() Key {
	return Key(u.normalized)
}

// String returns the normalized URL string.
func (u URL) String() string {
	return u.normalized
}

// IsZero reports whether u is the zero URL.
func (u URL) IsZero() bool {
	return u.normalized == ""
}

// URL returns a parsed copy of the normalized URL.
func (u URL) URL() *url.URL {
	parsed, err := url.Parse(u.normalized)
	if err != nil {
		return nil
	}
	return parsed
}

// StorageReference names an object inside a storage container: an S3
// bucket and object key, or an OCI repository and a digest or tag.
//
// Bytes for a storage reference cannot be fetched directly; a resolver
// first turns it into a retrievable location.
type StorageReference struct {
	// Bucket identifies the container, for example "images" or
	// "ghcr.io/acme/assets".
	Bucket string

	// Path is the full path of the object inside the container.
	Path string
}

// Key returns "bucket/path". An invalid reference has no key.
func (r StorageReference) Key() Key {
	if r.IsZero() || r.Validate() != nil {
		return ""
	}
	return Key(r.bucket() + "/" + r.path())
}

// String returns "bucket/path".
func (r StorageReference) String() string {
	if r.IsZero() {
		return ""
	}
	return r.bucket() + "/" + r.path()
}

// Validate rejects a bucket carrying a URL scheme, whose key would be
// indistinguishable from the key of a URL.
func (r StorageReference) Validate() error {
	if strings.Contains(r.bucket(), "://") {
		return fmt.Errorf("%w: bucket %q contains a url scheme", ErrInvalid, r.Bucket)
	}
	return nil
}

// IsZero reports whether the reference names nothing.
func (r StorageReference) IsZero() bool {
	return r.bucket() == "" || r.path() == ""
}

// Normalized returns the reference with surrounding slashes trimmed.
func (r StorageReference) Normalized() StorageReference {
	return StorageReference{Bucket: r.bucket(), Path: r.path()}
}

func (r StorageReference) bucket() string {
	return strings.TrimRight(strings.TrimSpace(r.Bucket), "/")
}

func (r StorageReference) path() string {
	return strings.TrimLeft(strings.TrimSpace(r.Path), "/")
}
