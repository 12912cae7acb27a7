package imgfetch

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image is a decoded image.
type Image struct {
	image.Image

	// Format is the registered format name, for example "png" or "webp".
	Format string

	// Size is the length of the encoded bytes the image was decoded from.
	Size int
}

// Bytes estimates the in-memory size of the decoded pixels, assuming four
// bytes per pixel.
func (img *Image) Bytes() int64 {
	if img == nil || img.Image == nil {
		return 0
	}
	b := img.Bounds()
	return int64(b.Dx()) * int64(b.Dy()) * 4
}

func (img *Image) weight() uint32 {
	n := img.Bytes()
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	if n < 1 {
		return 1
	}
	return uint32(n)
}

// Decoder turns encoded bytes into an Image.
// Implementations must be safe for concurrent use.
type Decoder interface {
	Decode(data []byte) (*Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(data []byte) (*Image, error)

// Decode calls fn.
func (fn DecoderFunc) Decode(data []byte) (*Image, error) {
	return fn(data)
}

// DefaultDecoder decodes PNG, JPEG, GIF, WebP, BMP and TIFF.
var DefaultDecoder Decoder = DecoderFunc(decodeImage)

func decodeImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecode)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &Image{Image: img, Format: format, Size: len(data)}, nil
}

// asDecodeError makes sure err matches ErrDecode.
func asDecodeError(err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}
