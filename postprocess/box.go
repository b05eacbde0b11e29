package postprocess

import (
	"fmt"
	"math"
)

// Box is an axis aligned bounding box in frame pixels with X,Y being the top
// left corner
type Box struct {
	X float32
	Y float32
	W float32
	H float32
}

// BoxFromCenter returns the Box centered on cx,cy
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

// Right returns the x coordinate of the right edge
func (b Box) Right() float32 {
	return b.X + b.W
}

// Bottom returns the y coordinate of the bottom edge
func (b Box) Bottom() float32 {
	return b.Y + b.H
}

// Area returns the area of the box, zero for degenerate boxes
func (b Box) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.W * b.H
}

// Center returns the center point of the box
func (b Box) Center() (float32, float32) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Translate returns the box moved by dx,dy
func (b Box) Translate(dx, dy float32) Box {
	b.X += dx
	b.Y += dy
	return b
}

// Valid reports whether the box has a positive finite width and height and
// a finite position
func (b Box) Valid() bool {
	return b.W > 0 && b.H > 0 && finite(b.X) && finite(b.Y) &&
		finite(b.W) && finite(b.H)
}

// String returns the box formatted as (x,y,w,h)
func (b Box) String() string {
	return fmt.Sprintf("(%.1f,%.1f,%.1f,%.1f)", b.X, b.Y, b.W, b.H)
}

// IOU works out the Intersection over Union of two boxes.  Areas are
// continuous so boxes that only touch have an IOU of 0.  The result is in
// [0,1] and is 0 if either box is degenerate.
func IOU(a, b Box) float32 {

	if !a.Valid() || !b.Valid() {
		return 0
	}

	iw := min(a.Right(), b.Right()) - max(a.X, b.X)
	ih := min(a.Bottom(), b.Bottom()) - max(a.Y, b.Y)

	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.W*a.H + b.W*b.H - inter

	if union <= 0 {
		return 0
	}

	iou := inter / union

	if iou > 1 {
		return 1
	}

	return iou
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
