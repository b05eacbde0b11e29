// Package synthetic provides a generated video source and a detector engine
// that recognises its objects.  Together they run the pipeline end to end
// without a camera or model, for benchmarking and tests.
package synthetic

import (
	"context"
	"image"
	"image/color"
	"io"
	"math/rand"
	"time"

	"github.com/swdee/go-rtvideo/pipeline"
	"golang.org/x/image/draw"
)

// Palette are the object colours, an object's class is its palette index
var Palette = []color.RGBA{
	{R: 230, G: 25, B: 25, A: 255},
	{R: 25, G: 200, B: 25, A: 255},
	{R: 30, G: 60, B: 230, A: 255},
	{R: 240, G: 220, B: 20, A: 255},
	{R: 20, G: 220, B: 220, A: 255},
	{R: 220, G: 20, B: 220, A: 255},
	{R: 250, G: 250, B: 250, A: 255},
	{R: 250, G: 140, B: 0, A: 255},
}

// Labels returns the class names of the palette colours
func Labels() []string {
	return []string{"red", "green", "blue", "yellow", "cyan", "magenta", "white", "orange"}
}

// Background is the frame background colour
var Background = color.RGBA{R: 32, G: 32, B: 32, A: 255}

// SourceOptions configures a Source
type SourceOptions struct {
	Width  int
	Height int
	// Objects is the number of moving rectangles, at most len(Palette)
	Objects int
	// Frames ends the stream with io.EOF after this many frames, zero for
	// no limit
	Frames int
	// FPS paces frame delivery, zero delivers as fast as possible
	FPS float64
	// MaxSpeed is the largest object speed in pixels per frame, default 3
	MaxSpeed float64
	// Seed seeds object placement
	Seed int64
}

type object struct {
	x, y   float64
	vx, vy float64
	w, h   int
	class  int
}

// Source generates frames of coloured rectangles bouncing around the frame.
// It is used by a single goroutine.
type Source struct {
	opts     SourceOptions
	objects  []object
	count    int
	interval time.Duration
	next     time.Time
}

// NewSource returns a Source with randomly placed objects
func NewSource(opts SourceOptions) *Source {

	if opts.Width <= 0 {
		opts.Width = 1280
	}

	if opts.Height <= 0 {
		opts.Height = 720
	}

	if opts.Objects > len(Palette) {
		opts.Objects = len(Palette)
	}

	if opts.MaxSpeed <= 0 {
		opts.MaxSpeed = 3
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	s := &Source{opts: opts}

	if opts.FPS > 0 {
		s.interval = time.Duration(float64(time.Second) / opts.FPS)
	}

	// objects start in their own column so they begin apart
	cell := opts.Width / max(opts.Objects, 1)

	for i := 0; i < opts.Objects; i++ {
		w := opts.Width/16 + rng.Intn(opts.Width/16+1)
		h := opts.Height/10 + rng.Intn(opts.Height/10+1)

		s.objects = append(s.objects, object{
			x:     float64(i*cell) + float64(max(cell-w, 0))/2,
			y:     float64(rng.Intn(max(opts.Height-h, 1))),
			vx:    (rng.Float64()*2 - 1) * opts.MaxSpeed,
			vy:    (rng.Float64()*2 - 1) * opts.MaxSpeed,
			w:     w,
			h:     h,
			class: i,
		})
	}

	return s
}

// Boxes returns the current object rectangles indexed by class
func (s *Source) Boxes() []image.Rectangle {

	out := make([]image.Rectangle, len(s.objects))

	for i, o := range s.objects {
		out[i] = image.Rect(int(o.x), int(o.y), int(o.x)+o.w, int(o.y)+o.h)
	}

	return out
}

// Next renders and returns the next frame
func (s *Source) Next(ctx context.Context) (pipeline.Frame, error) {

	if s.opts.Frames > 0 && s.count >= s.opts.Frames {
		return pipeline.Frame{}, io.EOF
	}

	if s.interval > 0 {
		if wait := time.Until(s.next); wait > 0 {
			select {
			case <-ctx.Done():
				return pipeline.Frame{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		s.next = time.Now().Add(s.interval)
	}

	if s.count > 0 {
		s.step()
	}

	img := s.Render()
	s.count++

	return pipeline.Frame{Image: img, Timestamp: time.Now()}, nil
}

// step moves every object, bouncing off the frame edges
func (s *Source) step() {

	for i := range s.objects {
		o := &s.objects[i]
		o.x += o.vx
		o.y += o.vy

		if o.x < 0 || o.x+float64(o.w) > float64(s.opts.Width) {
			o.vx = -o.vx
			o.x += 2 * o.vx
		}

		if o.y < 0 || o.y+float64(o.h) > float64(s.opts.Height) {
			o.vy = -o.vy
			o.y += 2 * o.vy
		}
	}
}

// Render draws the objects at their current positions into a new image
func (s *Source) Render() *image.RGBA {

	img := image.NewRGBA(image.Rect(0, 0, s.opts.Width, s.opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(Background), image.Point{}, draw.Src)

	for i, r := range s.Boxes() {
		draw.Draw(img, r, image.NewUniform(Palette[s.objects[i].class]), image.Point{}, draw.Src)
	}

	return img
}
