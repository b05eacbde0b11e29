// Package cv provides OpenCV backed preprocessing for callers that already
// hold frames as gocv.Mat
package cv

import (
	"fmt"
	"image"
	"image/color"

	"github.com/swdee/go-rtvideo/preprocess"
	"gocv.io/x/gocv"
)

// padColor is the letterbox border, it normalises to preprocess.PadValue
var padColor = color.RGBA{R: 128, G: 128, B: 128, A: 255}

// Resizer defines the struct used for handling image resizing
type Resizer struct {
	preprocess.Letterbox
	// tempMat is a Mat used during the resize process
	tempMat gocv.Mat
	// boxed holds the letterboxed frame during tensor conversion
	boxed gocv.Mat
}

// NewResizer returns a resizer used for scaling an image to the needed
// dimensions for input tensor size
func NewResizer(srcWidth, srcHeight, destWidth, destHeight int) *Resizer {
	return &Resizer{
		Letterbox: preprocess.NewLetterbox(srcWidth, srcHeight, destWidth, destHeight),
		tempMat:   gocv.NewMat(),
		boxed:     gocv.NewMat(),
	}
}

// Close frees memory allocated during resize process
func (r *Resizer) Close() error {
	r.boxed.Close()
	return r.tempMat.Close()
}

// LetterBoxResize resizes the input image to the dimensions needed for the input
// tensor size whilst maintaining image aspect.  Color is that used for letter
// box padding.
func (r *Resizer) LetterBoxResize(src gocv.Mat, dest *gocv.Mat, color color.RGBA) {

	gocv.Resize(src, &r.tempMat, image.Pt(r.ResizeWidth, r.ResizeHeight),
		0, 0, gocv.InterpolationArea)

	gocv.CopyMakeBorder(r.tempMat, dest, r.YPad, r.DstHeight-r.ResizeHeight-r.YPad,
		r.XPad, r.DstWidth-r.ResizeWidth-r.XPad, gocv.BorderConstant, color)
}

// ScaleFactor returns the scale factor used in letterbox resize
func (r *Resizer) ScaleFactor() float32 {
	return r.Scale
}

// PreprocessMat letterboxes a BGR Mat and writes it into dst as a planar RGB
// float32 tensor normalised to [0,1].  If the Mat dimensions differ from
// those the Resizer was created with the letterbox is recalculated.
func (r *Resizer) PreprocessMat(src gocv.Mat, dst []float32) (preprocess.Letterbox, error) {

	if src.Empty() {
		return preprocess.Letterbox{}, preprocess.ErrEmptyFrame
	}

	if src.Cols() != r.SrcWidth || src.Rows() != r.SrcHeight {
		r.Letterbox = preprocess.NewLetterbox(src.Cols(), src.Rows(), r.DstWidth, r.DstHeight)
	}

	need := 3 * r.DstWidth * r.DstHeight

	if len(dst) < need {
		return preprocess.Letterbox{}, fmt.Errorf("%w: have %d, need %d",
			preprocess.ErrShortBuffer, len(dst), need)
	}

	r.LetterBoxResize(src, &r.boxed, padColor)

	blob := gocv.BlobFromImage(r.boxed, 1.0/255.0, image.Pt(r.DstWidth, r.DstHeight),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	data, err := blob.DataPtrFloat32()

	if err != nil {
		return preprocess.Letterbox{}, fmt.Errorf("error reading blob: %w", err)
	}

	copy(dst[:need], data)

	return r.Letterbox, nil
}

// Preprocess converts an image.Image via OpenCV, it satisfies the same
// contract as preprocess.Converter so either can feed the pipeline
func (r *Resizer) Preprocess(img image.Image, dst []float32) (preprocess.Letterbox, error) {

	if img == nil || img.Bounds().Empty() {
		return preprocess.Letterbox{}, preprocess.ErrEmptyFrame
	}

	mat, err := gocv.ImageToMatRGB(img)

	if err != nil {
		return preprocess.Letterbox{}, fmt.Errorf("error converting image to mat: %w", err)
	}

	defer mat.Close()

	return r.PreprocessMat(mat, dst)
}
