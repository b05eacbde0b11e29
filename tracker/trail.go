package tracker

import "github.com/swdee/go-rtvideo/postprocess"

// Point represents the x,y coordinates of the center of a track's bounding
// box
type Point struct {
	X, Y int
}

// Trail keeps a bounded history of a track's center points used for drawing
// a trail
type Trail struct {
	// size is the maximum number of most recent points to keep in history
	size int
	// points are the history, oldest first
	points []Point
}

// newTrail returns a trail keeping up to size points, a size of zero keeps
// no history
func newTrail(size int) Trail {
	return Trail{size: size}
}

// Add appends the center of box to the history dropping the oldest point
// once full
func (t *Trail) Add(box postprocess.Box) {

	if t.size <= 0 {
		return
	}

	x, y := box.Center()

	if len(t.points) == t.size {
		copy(t.points, t.points[1:])
		t.points = t.points[:t.size-1]
	}

	t.points = append(t.points, Point{X: int(x), Y: int(y)})
}

// Points returns a copy of the point history
func (t *Trail) Points() []Point {

	if len(t.points) == 0 {
		return nil
	}

	return append([]Point(nil), t.points...)
}

// Len returns the number of points held
func (t *Trail) Len() int {
	return len(t.points)
}
