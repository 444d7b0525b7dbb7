package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestTensor_RescaleNHWC(t *testing.T) {
	p := Preprocessor{Size: 4, Layout: NHWC, Normalization: Rescale}
	data, err := p.Tensor(solid(10, 6, color.RGBA{R: 255, G: 0, B: 51, A: 255}))
	require.NoError(t, err)
	require.Len(t, data, p.Len())

	for i := 0; i < len(data); i += 3 {
		assert.InDelta(t, 1.0, data[i], 1e-6)
		assert.InDelta(t, 0.0, data[i+1], 1e-6)
		assert.InDelta(t, 0.2, data[i+2], 1e-6)
	}
}

func TestTensor_SymmetricNCHW(t *testing.T) {
	p := Preprocessor{Size: 2, Layout: NCHW, Normalization: Symmetric}
	data, err := p.Tensor(solid(2, 2, color.RGBA{R: 255, G: 0, B: 255, A: 255}))
	require.NoError(t, err)

	// Channel planes: R, G, B with 4 pixels each.
	assert.Equal(t, []float32{1, 1, 1, 1, -1, -1, -1, -1, 1, 1, 1, 1}, data)
}

func TestTensor_RejectsUnknownNormalization(t *testing.T) {
	p := Preprocessor{Size: 2, Layout: NHWC, Normalization: "imagenet"}
	_, err := p.Tensor(solid(2, 2, color.RGBA{}))
	assert.Error(t, err)
}

func TestResize_KeepsTargetSizedImage(t *testing.T) {
	p := Preprocessor{Size: 3, Layout: NHWC, Normalization: Rescale}
	img := solid(3, 3, color.RGBA{A: 255})
	assert.Same(t, img, p.Resize(img))

	out := p.Resize(solid(9, 5, color.RGBA{A: 255}))
	assert.Equal(t, image.Rect(0, 0, 3, 3), out.Bounds())
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(2, 2, color.RGBA{R: 9, A: 255})))

	img, format, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 2, img.Bounds().Dx())

	_, _, err = Decode(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}
