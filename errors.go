package imgfetch

import (
	"errors"

	"github.com/meigma/imgfetch/source"
)

// Fetch pipeline errors.
var (
	// ErrCacheRead is logged when the byte cache fails a lookup. The lookup
	// is treated as a miss and never returned to callers.
	ErrCacheRead = errors.New("imgfetch: cache read failed")

	// ErrCacheDecode is logged when cached bytes do not decode. The entry is
	// treated as a miss and never returned to callers.
	ErrCacheDecode = errors.New("imgfetch: cached entry is corrupt")

	// ErrDecode is returned when downloaded bytes are not a supported image.
	ErrDecode = errors.New("imgfetch: decode failed")
)

// Errors re-exported from source.
var (
	// ErrSourceUnavailable is returned when bytes cannot be downloaded.
	ErrSourceUnavailable = source.ErrUnavailable

	// ErrEmptySource is returned when a fetch names no resource.
	ErrEmptySource = source.ErrEmpty

	// ErrInvalidSource is returned when a descriptor is malformed.
	ErrInvalidSource = source.ErrInvalid
)
