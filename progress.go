package imgfetch

import "github.com/meigma/imgfetch/source"

// Re-export descriptor types from the source package.
type (
	// Key is the canonical cache identity of an image resource.
	Key = source.Key

	// Descriptor identifies a remote image.
	Descriptor = source.Descriptor

	// URL is a descriptor for an image at an absolute http(s) URL.
	URL = source.URL

	// StorageReference names an object inside a bucket or repository.
	StorageReference = source.StorageReference

	// ProgressFunc receives transfer progress. total is 0 when unknown.
	ProgressFunc = source.ProgressFunc
)

// ParseURL parses and normalizes an absolute http or https URL.
func ParseURL(raw string) (URL, error) {
	return source.ParseURL(raw)
}
