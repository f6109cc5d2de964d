// Package processors provides the built-in image transformation steps.
//
// Every processor carries a stable identifier that participates in artifact
// cache keys: two processors with different output must never share an ID,
// and an ID must not change between releases or cached artifacts silently
// go stale.
package processors

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"
)

// ErrInvalidSize is returned by size-changing processors configured with no
// positive dimension.
var ErrInvalidSize = errors.New("processors: width and height must not both be zero")

// Resize scales an image to the given dimensions using Lanczos resampling.
// A zero Width or Height preserves the aspect ratio.
type Resize struct {
	Width  int
	Height int
}

func (p Resize) ID() string {
	return fmt.Sprintf("resize-%dx%d", p.Width, p.Height)
}

func (p Resize) Process(img image.Image) (image.Image, error) {
	if p.Width <= 0 && p.Height <= 0 {
		return nil, ErrInvalidSize
	}
	return imaging.Resize(img, p.Width, p.Height, imaging.Lanczos), nil
}

// Thumbnail scales and center-crops an image to exactly the given
// dimensions.
type Thumbnail struct {
	Width  int
	Height int
}

func (p Thumbnail) ID() string {
	return fmt.Sprintf("thumb-%dx%d", p.Width, p.Height)
}

func (p Thumbnail) Process(img image.Image) (image.Image, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, ErrInvalidSize
	}
	return imaging.Thumbnail(img, p.Width, p.Height, imaging.Lanczos), nil
}

// GaussianBlur smooths an image with the given sigma.
type GaussianBlur struct {
	Sigma float64
}

func (p GaussianBlur) ID() string {
	return "blur-" + strconv.FormatFloat(p.Sigma, 'g', -1, 64)
}

func (p GaussianBlur) Process(img image.Image) (image.Image, error) {
	if p.Sigma <= 0 {
		return nil, errors.New("processors: blur sigma must be positive")
	}
	return imaging.Blur(img, p.Sigma), nil
}

// Grayscale converts an image to grayscale.
type Grayscale struct{}

func (Grayscale) ID() string { return "grayscale" }

func (Grayscale) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// Sharpen applies an unsharp convolution kernel.
type Sharpen struct{}

func (Sharpen) ID() string { return "sharpen" }

func (Sharpen) Process(img image.Image) (image.Image, error) {
	return effect.Sharpen(img), nil
}

// Rotate rotates an image counter-clockwise by a multiple of 90 degrees.
type Rotate struct {
	// Degrees must be 90, 180, or 270.
	Degrees int
}

func (p Rotate) ID() string {
	return fmt.Sprintf("rotate-%d", p.Degrees)
}

func (p Rotate) Process(img image.Image) (image.Image, error) {
	switch p.Degrees {
	case 90:
		return imaging.Rotate90(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate270(img), nil
	default:
		return nil, fmt.Errorf("processors: unsupported rotation %d", p.Degrees)
	}
}
