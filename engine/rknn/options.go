// Package rknn runs detection models on the Rockchip NPU through the RKNN
// Toolkit2 runtime.  The cgo bindings are only built with the rknn build tag
// on a board with librknnrt installed, without it NewFactory returns engines
// that fail with ErrNotSupported.
package rknn

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned when the package was built without the rknn
// build tag
var ErrNotSupported = errors.New("rknn support not built, rebuild with -tags rknn")

// Options configure the engines created by NewFactory
type Options struct {
	// ModelFile is the RKNN compiled model
	ModelFile string
	// Cores is the number of NPU cores to spread engines across, engine i
	// is pinned to core i modulo Cores.  Zero lets the runtime choose a
	// core, -1 skips setting a core mask for SoCs that do not support it.
	Cores int
	// FloatInput passes the input tensor as float32 instead of uint8, for
	// models compiled without input normalisation
	FloatInput bool
}

// nchwToNHWCUint8 converts a planar [0,1] float tensor into interleaved 8 bit
// pixels in dst, which is grown if needed
func nchwToNHWCUint8(src []float32, c, h, w int, dst []byte) ([]byte, error) {

	plane := h * w

	if c <= 0 || plane <= 0 || len(src) < c*plane {
		return dst, fmt.Errorf("input of %d values does not fit %dx%dx%d", len(src), c, h, w)
	}

	if cap(dst) < c*plane {
		dst = make([]byte, c*plane)
	}

	dst = dst[:c*plane]

	for ch := 0; ch < c; ch++ {
		p := src[ch*plane : (ch+1)*plane]

		for i, v := range p {
			switch {
			case v <= 0:
				dst[i*c+ch] = 0
			case v >= 1:
				dst[i*c+ch] = 255
			default:
				dst[i*c+ch] = uint8(v*255 + 0.5)
			}
		}
	}

	return dst, nil
}

// nchwToNHWCFloat32 interleaves a planar float tensor into dst scaled to
// [0,255]
func nchwToNHWCFloat32(src []float32, c, h, w int, dst []float32) ([]float32, error) {

	plane := h * w

	if c <= 0 || plane <= 0 || len(src) < c*plane {
		return dst, fmt.Errorf("input of %d values does not fit %dx%dx%d", len(src), c, h, w)
	}

	if cap(dst) < c*plane {
		dst = make([]float32, c*plane)
	}

	dst = dst[:c*plane]

	for ch := 0; ch < c; ch++ {
		for i, v := range src[ch*plane : (ch+1)*plane] {
			dst[i*c+ch] = v * 255
		}
	}

	return dst, nil
}
