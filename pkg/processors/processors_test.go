package processors

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/pixelpipe/pkg/pipeline"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	return img
}

func TestIdentifiersAreStableAndDistinct(t *testing.T) {
	procs := []pipeline.Processor{
		Resize{Width: 100, Height: 50},
		Resize{Width: 50, Height: 100},
		Thumbnail{Width: 64, Height: 64},
		GaussianBlur{Sigma: 1.5},
		Grayscale{},
		Sharpen{},
		Rotate{Degrees: 90},
		Rotate{Degrees: 180},
	}

	seen := make(map[string]bool)
	for _, p := range procs {
		id := p.ID()
		assert.False(t, seen[id], "duplicate processor id %q", id)
		seen[id] = true
	}

	assert.Equal(t, "resize-100x50", Resize{Width: 100, Height: 50}.ID())
	assert.Equal(t, "blur-1.5", GaussianBlur{Sigma: 1.5}.ID())
}

func TestResizeProducesRequestedBounds(t *testing.T) {
	out, err := Resize{Width: 10, Height: 6}.Process(testImage(40, 24))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 6), out.Bounds())

	// Zero height preserves aspect ratio.
	out, err = Resize{Width: 20}.Process(testImage(40, 24))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 12), out.Bounds())
}

func TestResizeRejectsEmptySize(t *testing.T) {
	_, err := Resize{}.Process(testImage(4, 4))
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestThumbnailCropsToExactSize(t *testing.T) {
	out, err := Thumbnail{Width: 8, Height: 8}.Process(testImage(40, 24))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
}

func TestGrayscaleRemovesChroma(t *testing.T) {
	out, err := Grayscale{}.Process(testImage(4, 4))
	require.NoError(t, err)

	r, g, b, _ := out.At(2, 2).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestRotateSwapsDimensions(t *testing.T) {
	out, err := Rotate{Degrees: 90}.Process(testImage(10, 4))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 10), out.Bounds())

	_, err = Rotate{Degrees: 45}.Process(testImage(10, 4))
	assert.Error(t, err)
}

func TestSharpenPreservesBounds(t *testing.T) {
	out, err := Sharpen{}.Process(testImage(10, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), out.Bounds())
}
