package synthetic

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/swdee/go-rtvideo"
)

const (
	// colourTolerance is the largest per channel difference, in normalised
	// units, for a tensor pixel to match a palette colour
	colourTolerance = 0.12
	// minPixels is the number of matching pixels needed to report an object
	minPixels = 4
	// score is the class confidence reported for a found object
	score = 0.9
)

// EngineOptions configures an Engine
type EngineOptions struct {
	// Latency is slept on every inference to simulate accelerator time
	Latency time.Duration
	// Output is the tensor type returned, float32 or float16
	Output rtvideo.TensorType
}

// Engine is an inference engine that locates the palette coloured
// rectangles in an NCHW input tensor.  It returns a [1, 4+C, C] tensor in
// the transposed YOLO layout with one candidate column per palette colour.
type Engine struct {
	opts   EngineOptions
	calls  atomic.Int64
	closed atomic.Bool
}

// NewEngine returns an Engine
func NewEngine(opts EngineOptions) *Engine {
	return &Engine{opts: opts}
}

// Factory returns an EngineFactory creating engines with opts
func Factory(opts EngineOptions) rtvideo.EngineFactory {
	return func(int) (rtvideo.Engine, error) {
		return NewEngine(opts), nil
	}
}

// Calls returns the number of inferences run
func (e *Engine) Calls() int64 {
	return e.calls.Load()
}

// Infer finds the palette colours in input
func (e *Engine) Infer(input *rtvideo.Tensor) (*rtvideo.Tensor, error) {

	if e.closed.Load() {
		return nil, rtvideo.ErrEngineClosed
	}

	e.calls.Add(1)

	if len(input.Shape) != 4 || input.Shape[1] != 3 || input.Type != rtvideo.TensorFloat32 {
		return nil, fmt.Errorf("unsupported input %s", input)
	}

	h, w := input.Shape[2], input.Shape[3]
	plane := w * h

	if len(input.Float) < 3*plane {
		return nil, fmt.Errorf("input payload %d short of shape %v", len(input.Float), input.Shape)
	}

	if e.opts.Latency > 0 {
		time.Sleep(e.opts.Latency)
	}

	classes := len(Palette)
	stride := 4 + classes

	type bounds struct {
		x0, y0, x1, y1, n int
	}

	found := make([]bounds, classes)
	for i := range found {
		found[i] = bounds{x0: w, y0: h, x1: -1, y1: -1}
	}

	r := input.Float[0:plane]
	g := input.Float[plane : 2*plane]
	b := input.Float[2*plane : 3*plane]

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x

			k := match(r[i], g[i], b[i])
			if k < 0 {
				continue
			}

			f := &found[k]
			f.n++
			f.x0 = min(f.x0, x)
			f.y0 = min(f.y0, y)
			f.x1 = max(f.x1, x)
			f.y1 = max(f.y1, y)
		}
	}

	// transposed layout, row j holds attribute j of every candidate
	out := make([]float32, stride*classes)

	for k, f := range found {
		if f.n < minPixels {
			continue
		}

		bw := float32(f.x1 - f.x0 + 1)
		bh := float32(f.y1 - f.y0 + 1)

		out[0*classes+k] = float32(f.x0) + bw/2
		out[1*classes+k] = float32(f.y0) + bh/2
		out[2*classes+k] = bw
		out[3*classes+k] = bh
		out[(4+k)*classes+k] = score
	}

	shape := []int{1, stride, classes}

	if e.opts.Output == rtvideo.TensorFloat16 {
		return &rtvideo.Tensor{
			Shape: shape,
			Type:  rtvideo.TensorFloat16,
			Half:  rtvideo.Float32ToFloat16(out),
		}, nil
	}

	return rtvideo.NewFloat32Tensor(shape, out), nil
}

// Close marks the engine closed
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// match returns the palette index within tolerance of the pixel, or -1
func match(r, g, b float32) int {

	for k, c := range Palette {
		if near(r, c.R) && near(g, c.G) && near(b, c.B) {
			return k
		}
	}

	return -1
}

func near(v float32, c uint8) bool {
	d := v - float32(c)/255
	return d < colourTolerance && d > -colourTolerance
}
