package preprocess

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// PadValue is the normalised value written to the letterbox border, mid grey
const PadValue float32 = 0.5

var (
	// ErrEmptyFrame is returned when converting a frame with no pixels
	ErrEmptyFrame = errors.New("empty frame")
	// ErrShortBuffer is returned when the destination cannot hold the tensor
	ErrShortBuffer = errors.New("destination buffer too small")
)

// Converter letterbox resizes frames into a planar RGB float32 tensor with
// values normalised to [0,1], the input format expected by YOLO detectors.
// It reuses its scratch image between calls so is not safe for concurrent
// use, each pipeline stage should own its own Converter.
type Converter struct {
	width  int
	height int
	// scaler is the interpolator used for resizing
	scaler draw.Scaler
	// scratch holds the resized frame before conversion to float32
	scratch *image.RGBA
	// lb is the cached letterbox for the last seen source dimensions
	lb Letterbox
}

// NewConverter returns a Converter for a width x height input tensor
func NewConverter(width, height int) *Converter {
	return &Converter{
		width:   width,
		height:  height,
		scaler:  draw.ApproxBiLinear,
		scratch: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

// TensorLen returns the number of float32 values in a converted tensor
func (c *Converter) TensorLen() int {
	return 3 * c.width * c.height
}

// Preprocess converts img into dst in NCHW layout and returns the letterbox
// geometry used so detections can be mapped back to frame pixels
func (c *Converter) Preprocess(img image.Image, dst []float32) (Letterbox, error) {

	if img == nil {
		return Letterbox{}, ErrEmptyFrame
	}

	b := img.Bounds()

	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Letterbox{}, ErrEmptyFrame
	}

	if len(dst) < c.TensorLen() {
		return Letterbox{}, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer,
			len(dst), c.TensorLen())
	}

	if c.lb.SrcWidth != b.Dx() || c.lb.SrcHeight != b.Dy() {
		c.lb = NewLetterbox(b.Dx(), b.Dy(), c.width, c.height)
	}

	lb := c.lb
	rect := image.Rect(lb.XPad, lb.YPad, lb.XPad+lb.ResizeWidth, lb.YPad+lb.ResizeHeight)

	c.scaler.Scale(c.scratch, rect, img, b, draw.Src, nil)

	plane := c.width * c.height
	r := dst[0:plane]
	g := dst[plane : 2*plane]
	bl := dst[2*plane : 3*plane]

	const norm = 1.0 / 255.0

	for y := 0; y < c.height; y++ {
		row := y * c.width
		pix := c.scratch.Pix[y*c.scratch.Stride:]

		for x := 0; x < c.width; x++ {
			i := row + x

			if !lb.Contains(x, y) {
				r[i], g[i], bl[i] = PadValue, PadValue, PadValue
				continue
			}

			p := pix[x*4 : x*4+3]
			r[i] = float32(p[0]) * norm
			g[i] = float32(p[1]) * norm
			bl[i] = float32(p[2]) * norm
		}
	}

	return lb, nil
}
