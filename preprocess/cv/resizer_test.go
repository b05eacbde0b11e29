package cv

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

var (
	black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

func TestLetterBoxResize(t *testing.T) {

	tests := []struct {
		srcWidth      int
		srcHeight     int
		resizeWidth   int
		resizeHeight  int
		expectedXPad  int
		expectedYPad  int
		expectedScale float32
	}{
		{1280, 720, 640, 640, 0, 140, 0.50},
		{800, 1000, 640, 640, 64, 0, 0.64},
		{800, 800, 640, 640, 0, 0, 0.8},
	}

	for _, tc := range tests {
		img := gocv.NewMatWithSize(tc.srcHeight, tc.srcWidth, gocv.MatTypeCV8UC1)

		resizedImg := gocv.NewMat()

		resizer := NewResizer(tc.srcWidth, tc.srcHeight, tc.resizeWidth, tc.resizeHeight)

		resizer.LetterBoxResize(img, &resizedImg, black)

		if resizer.XPad != tc.expectedXPad || resizer.YPad != tc.expectedYPad {
			t.Errorf("Test failed for src (%d, %d): Padding values wrong, expected XPad=%d, YPad=%d, got xPad=%d, yPad=%d",
				tc.srcWidth, tc.srcHeight, tc.expectedXPad, tc.expectedYPad, resizer.XPad, resizer.YPad)
		}

		if resizer.ScaleFactor() != tc.expectedScale {
			t.Errorf("Test failed for src (%d, %d): Scalefactor incorrect, expected %f, got %f",
				tc.srcWidth, tc.srcHeight, tc.expectedScale, resizer.ScaleFactor())
		}

		if resizedImg.Cols() != tc.resizeWidth || resizedImg.Rows() != tc.resizeHeight {
			t.Errorf("Test failed for src (%d, %d): resized Mat is %dx%d",
				tc.srcWidth, tc.srcHeight, resizedImg.Cols(), resizedImg.Rows())
		}

		img.Close()
		resizedImg.Close()
		resizer.Close()
	}
}

func TestPreprocessImage(t *testing.T) {

	src := image.NewRGBA(image.Rect(0, 0, 64, 32))

	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = 255
		src.Pix[i+3] = 255
	}

	resizer := NewResizer(64, 32, 32, 32)
	defer resizer.Close()

	dst := make([]float32, 3*32*32)

	lb, err := resizer.Preprocess(src, dst)

	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}

	if lb.YPad != 8 || lb.XPad != 0 {
		t.Errorf("unexpected padding xPad=%d yPad=%d", lb.XPad, lb.YPad)
	}

	// center pixel is red in the R plane and zero in the B plane
	center := 16*32 + 16

	if dst[center] < 0.99 {
		t.Errorf("expected red plane ~1.0, got %f", dst[center])
	}

	if dst[2*32*32+center] > 0.01 {
		t.Errorf("expected blue plane ~0.0, got %f", dst[2*32*32+center])
	}

	// top left corner is padding
	if dst[0] < 0.49 || dst[0] > 0.51 {
		t.Errorf("expected padding ~0.5, got %f", dst[0])
	}

	if _, err := resizer.Preprocess(src, dst[:10]); err == nil {
		t.Errorf("expected short buffer error")
	}
}
