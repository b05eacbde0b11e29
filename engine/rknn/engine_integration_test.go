//go:build rknn && integration

package rknn

import (
	"image"
	"os"
	"strings"
	"testing"

	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/postprocess"
	"github.com/swdee/go-rtvideo/preprocess"
	"gocv.io/x/gocv"
)

// TestYOLODetect runs a YOLO model compiled for the NPU on RKNN_IMAGE and
// checks the decoded detections lie within the frame
func TestYOLODetect(t *testing.T) {

	modelFile := os.Getenv("RKNN_MODEL")

	if modelFile == "" {
		t.Fatalf("No Model file provided in RKNN_MODEL")
	}

	imgFile := os.Getenv("RKNN_IMAGE")

	if imgFile == "" {
		t.Fatalf("No Image file provided in RKNN_IMAGE")
	}

	e, err := NewEngine(modelFile, NPUCoreAuto, false)

	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	defer e.Close()

	var sb strings.Builder

	if err := e.Runtime().Query(&sb); err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	t.Log(sb.String())

	mat := gocv.IMRead(imgFile, gocv.IMReadColor)

	if mat.Empty() {
		t.Fatalf("Error reading image from: %s", imgFile)
	}

	defer mat.Close()

	img, err := mat.ToImage()

	if err != nil {
		t.Fatalf("Error converting image: %v", err)
	}

	conv := preprocess.NewConverter(e.w, e.h)
	tensor := make([]float32, conv.TensorLen())

	lb, err := conv.Preprocess(img, tensor)

	if err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}

	out, err := e.Infer(rtvideo.NewFloat32Tensor([]int{1, 3, e.h, e.w}, tensor))

	if err != nil {
		t.Fatalf("Inference error: %v", err)
	}

	yolo := postprocess.NewYOLO(postprocess.YOLOParams{
		ObjectClassNum:  80,
		MaxObjectNumber: 100,
		Layout:          postprocess.LayoutAuto,
		InputWidth:      e.w,
		InputHeight:     e.h,
	})

	dets, err := yolo.DetectObjectsLetterbox(out, lb, 0.25, 0.45)

	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	bounds := image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy())

	for i, d := range dets {
		r := image.Rect(int(d.Box.X), int(d.Box.Y), int(d.Box.X+d.Box.W), int(d.Box.Y+d.Box.H))

		if !r.In(bounds) {
			t.Errorf("detection %d: box %v outside frame %v", i, r, bounds)
		}

		if d.Confidence < 0.25 || d.Confidence > 1 {
			t.Errorf("detection %d: confidence %v out of range", i, d.Confidence)
		}
	}

	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := e.Infer(rtvideo.NewFloat32Tensor([]int{1, 3, e.h, e.w}, tensor)); err != rtvideo.ErrEngineClosed {
		t.Errorf("Infer after Close returned %v", err)
	}
}
