package dataset

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Augmenter applies a random rotation, zoom and horizontal flip as a
// single affine transform about the image centre. Uncovered pixels are
// black. An Augmenter is not safe for concurrent use.
type Augmenter struct {
	Rotation       float64 // max degrees either way
	Zoom           float64 // per-axis scale drawn from [1-Zoom, 1+Zoom]
	HorizontalFlip bool
	rng            *rand.Rand
}

func NewAugmenter(rotation, zoom float64, flip bool, seed int64) *Augmenter {
	return &Augmenter{
		Rotation:       rotation,
		Zoom:           zoom,
		HorizontalFlip: flip,
		rng:            rand.New(rand.NewSource(seed)),
	}
}

func (a *Augmenter) Apply(src image.Image) image.Image {
	theta := 0.0
	if a.Rotation > 0 {
		theta = (a.rng.Float64()*2 - 1) * a.Rotation * math.Pi / 180
	}
	zx, zy := 1.0, 1.0
	if a.Zoom > 0 {
		zx = 1 - a.Zoom + a.rng.Float64()*2*a.Zoom
		zy = 1 - a.Zoom + a.rng.Float64()*2*a.Zoom
	}
	flip := a.HorizontalFlip && a.rng.Float64() < 0.5

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.NearestNeighbor.Transform(dst, transform(b, theta, zx, zy, flip), src, b, draw.Src, nil)
	return dst
}

// transform maps source coordinates to destination coordinates. The
// horizontal and vertical zoom factors are independent; a factor above 1
// shows more of the image along that axis, matching zoom_range.
func transform(b image.Rectangle, theta, zx, zy float64, flip bool) f64.Aff3 {
	w, h := float64(b.Dx()), float64(b.Dy())
	cx, cy := float64(b.Min.X)+w/2, float64(b.Min.Y)+h/2
	cos, sin := math.Cos(theta), math.Sin(theta)

	a, bb := cos/zx, -sin/zx
	d, e := sin/zy, cos/zy
	m := f64.Aff3{
		a, bb, w/2 - (a*cx + bb*cy),
		d, e, h/2 - (d*cx + e*cy),
	}
	if flip {
		m[0], m[1], m[2] = -m[0], -m[1], w-m[2]
	}
	return m
}
