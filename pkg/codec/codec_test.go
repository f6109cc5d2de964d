package codec

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 60), B: 128, A: 255})
		}
	}
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, format := range []string{"png", "jpg", "bmp", "tiff", "gif"} {
		t.Run(format, func(t *testing.T) {
			enc, err := NewEncoder(format, 90)
			require.NoError(t, err)

			data, err := enc.Encode(testImage())
			require.NoError(t, err)
			require.NotEmpty(t, data)

			img, err := NewDecoder().Decode(data, true)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, 8, 4), img.Bounds())
		})
	}
}

func TestDecodeRejectsPartialBuffers(t *testing.T) {
	enc, err := NewEncoder("png", 0)
	require.NoError(t, err)
	data, err := enc.Encode(testImage())
	require.NoError(t, err)

	_, err = NewDecoder().Decode(data, false)
	assert.ErrorIs(t, err, ErrPartialData)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := NewDecoder().Decode([]byte("definitely not an image"), true)
	assert.Error(t, err)
}

func TestNewEncoderRejectsUnknownFormat(t *testing.T) {
	_, err := NewEncoder("heic", 0)
	assert.Error(t, err)
}
