// Package preprocess turns decoded images into the float tensors the
// backbone consumes. Training, evaluation and serving all go through the
// same Preprocessor so the normalization can never drift between them.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Normalization names how 8-bit channel values are mapped to floats.
type Normalization string

const (
	// Rescale maps [0,255] to [0,1].
	Rescale Normalization = "rescale"
	// Symmetric maps [0,255] to [-1,1].
	Symmetric Normalization = "symmetric"
)

// Layout is the memory order of a single-image tensor.
type Layout string

const (
	NHWC Layout = "NHWC"
	NCHW Layout = "NCHW"
)

const channels = 3

var ErrUnsupportedImage = errors.New("unsupported image format")

type Preprocessor struct {
	Size          int
	Layout        Layout
	Normalization Normalization
}

func (p Preprocessor) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("invalid image size %d", p.Size)
	}
	switch p.Layout {
	case NHWC, NCHW:
	default:
		return fmt.Errorf("unknown tensor layout %q", p.Layout)
	}
	switch p.Normalization {
	case Rescale, Symmetric:
	default:
		return fmt.Errorf("unknown normalization %q", p.Normalization)
	}
	return nil
}

// Len is the number of float32 values in one image tensor.
func (p Preprocessor) Len() int {
	return channels * p.Size * p.Size
}

// Decode reads any registered image format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

// Resize scales img to the square target size with nearest-neighbour
// sampling. Images already at the target size are returned unchanged.
func (p Preprocessor) Resize(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() == p.Size && b.Dy() == p.Size {
		return img
	}
	return resize.Resize(uint(p.Size), uint(p.Size), img, resize.NearestNeighbor)
}

// Tensor resizes img if needed and writes its normalized RGB values in
// the configured layout. The leading batch dimension of 1 is implicit.
func (p Preprocessor) Tensor(img image.Image) ([]float32, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	resized := p.Resize(img)
	bounds := resized.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height

	data := make([]float32, channels*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rgb := [channels]float32{
				p.scale(r >> 8),
				p.scale(g >> 8),
				p.scale(b >> 8),
			}

			pixel := y*width + x
			for c, v := range rgb {
				if p.Layout == NCHW {
					data[c*plane+pixel] = v
				} else {
					data[pixel*channels+c] = v
				}
			}
		}
	}
	return data, nil
}

func (p Preprocessor) scale(v uint32) float32 {
	if p.Normalization == Symmetric {
		return float32(v)/127.5 - 1
	}
	return float32(v) / 255
}
