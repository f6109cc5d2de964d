// Package codec bridges the pipeline's Decoder and Encoder contracts to the
// image formats the engine serves. Decoding goes through the stdlib registry
// (PNG, JPEG, GIF) extended with WebP, BMP and TIFF; encoding goes through
// the imaging library.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrPartialData is returned when asked to decode an incomplete buffer;
// progressive partial-scan decoding is not supported.
var ErrPartialData = errors.New("codec: partial data not decodable")

// Decoder decodes any registered image format. The zero value is usable.
type Decoder struct{}

// NewDecoder creates a format-sniffing decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Decode sniffs the format and decodes data. Only complete buffers are
// supported; final=false yields ErrPartialData.
func (d *Decoder) Decode(data []byte, final bool) (image.Image, error) {
	if !final {
		return nil, ErrPartialData
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return img, nil
}

// DefaultJPEGQuality is used when an encoder is created with quality <= 0.
const DefaultJPEGQuality = 85

// Encoder encodes images into one fixed output format.
type Encoder struct {
	format  imaging.Format
	quality int
}

// NewEncoder creates an encoder for the given format name or extension
// ("png", ".jpg", "tiff", ...). quality applies to JPEG only.
func NewEncoder(format string, quality int) (*Encoder, error) {
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("codec: unsupported encode format %q: %w", format, err)
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return &Encoder{format: f, quality: quality}, nil
}

// Encode renders img in the encoder's format.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var opts []imaging.EncodeOption
	if e.format == imaging.JPEG {
		opts = append(opts, imaging.JPEGQuality(e.quality))
	}
	if err := imaging.Encode(&buf, img, e.format, opts...); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}
