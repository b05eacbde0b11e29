package tracker

import (
	"github.com/swdee/go-rtvideo/postprocess"
)

// Xyah (center x, center y, aspect ratio, height) is the measurement space
// of the Kalman motion model
type Xyah [4]float64

// BoxToXyah converts a bounding box to Xyah format
func BoxToXyah(b postprocess.Box) Xyah {
	cx, cy := b.Center()
	return Xyah{
		float64(cx),
		float64(cy),
		float64(b.W) / float64(b.H),
		float64(b.H),
	}
}

// XyahToBox creates a bounding box from Xyah format
func XyahToBox(xyah Xyah) postprocess.Box {
	width := xyah[2] * xyah[3]
	return postprocess.BoxFromCenter(float32(xyah[0]), float32(xyah[1]),
		float32(width), float32(xyah[3]))
}
