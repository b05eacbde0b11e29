package postprocess

import (
	"math"

	"github.com/swdee/go-rtvideo"
	"github.com/swdee/go-rtvideo/preprocess"
)

// CoordMode is how box coordinates in the output tensor are expressed
type CoordMode int

const (
	// CoordsAuto treats coordinates as normalised when every candidate box
	// value is at most normalizedLimit
	CoordsAuto CoordMode = iota
	// CoordsPixels are letterboxed input tensor pixels
	CoordsPixels
	// CoordsNormalized are fractions of the input tensor size
	CoordsNormalized
)

// ScoreMode is how confidence scores in the output tensor are scaled
type ScoreMode int

const (
	// ScoresAuto divides any combined score above 1.0 by 1000, some model
	// exports emit per-mille scores
	ScoresAuto ScoreMode = iota
	// ScoresRaw uses scores as they are
	ScoresRaw
)

// normalizedLimit is the largest box value still treated as normalised
const normalizedLimit = 1.5

// YOLOParams defines the struct containing the YOLO parameters to use for
// post processing operations
type YOLOParams struct {
	// ObjectClassNum is the number of different object classes the Model has
	// been trained with, zero to derive it from the output shape
	ObjectClassNum int
	// MaxObjectNumber is the maximum number of objects detected that can be
	// returned after NMS, zero for no limit
	MaxObjectNumber int
	// Layout is the output tensor layout
	Layout Layout
	// InputWidth and InputHeight are the dimensions of the input tensor
	// the frame was letterboxed into
	InputWidth  int
	InputHeight int
	// Coords is how box coordinates are expressed
	Coords CoordMode
	// Scores is how confidence scores are scaled
	Scores ScoreMode
	// Labels are the class names indexed by class ID
	Labels []string
}

// YOLOCOCOParams returns an instance of YOLOParams configured with default
// values for a Model trained on the COCO dataset featuring:
// - Object Classes: 80
// - Input tensor: 640x640
// - Maximum Object Number: 100
func YOLOCOCOParams() YOLOParams {
	return YOLOParams{
		ObjectClassNum:  80,
		MaxObjectNumber: 100,
		Layout:          LayoutAuto,
		InputWidth:      640,
		InputHeight:     640,
	}
}

// YOLO defines the struct for YOLO model inference post processing.  It is
// safe for concurrent use.
type YOLO struct {
	// Params are the Model configuration parameters
	Params YOLOParams
	// idGen provides the next number for each detection ID
	idGen *IDGenerator
	// scratch holds conversion buffers for non float32 outputs
	scratch *scratchPool
}

// NewYOLO returns an instance of the YOLO post processor
func NewYOLO(p YOLOParams) *YOLO {
	return &YOLO{
		Params:  p,
		idGen:   NewIDGenerator(),
		scratch: newScratchPool((4 + 1 + max(p.ObjectClassNum, 1)) * 8400),
	}
}

// candidate is a decoded row still in input tensor space
type candidate struct {
	cx, cy, w, h float32
	score        float32
	class        int
}

// DetectObjects decodes the raw output tensor of a frame of frameWidth x
// frameHeight pixels, which was letterboxed into the input tensor, and
// returns the de-duplicated detections.  Empty output or a zero sized frame
// yields no detections and no error.  An output whose shape does not fit the
// layout returns ErrShapeMismatch.
func (y *YOLO) DetectObjects(raw *rtvideo.Tensor, frameWidth, frameHeight int,
	confThreshold, nmsThreshold float32) ([]Detection, error) {

	lb := preprocess.NewLetterbox(frameWidth, frameHeight,
		y.Params.InputWidth, y.Params.InputHeight)

	return y.DetectObjectsLetterbox(raw, lb, confThreshold, nmsThreshold)
}

// DetectObjectsLetterbox is DetectObjects with the letterbox geometry that
// was used during preprocessing
func (y *YOLO) DetectObjectsLetterbox(raw *rtvideo.Tensor, lb preprocess.Letterbox,
	confThreshold, nmsThreshold float32) ([]Detection, error) {

	if !lb.Valid() || raw.Len() == 0 {
		return nil, nil
	}

	var data []float32

	if raw.Type != rtvideo.TensorFloat32 {
		buf := y.scratch.Get(raw.Len())
		defer y.scratch.Put(buf)
		*buf = raw.Float32(*buf)
		data = *buf
	} else {
		data = raw.Float
	}

	view, err := resolveView(y.Params.Layout, raw.Shape, y.Params.ObjectClassNum, data)

	if err != nil {
		return nil, err
	}

	cands := y.collect(view, confThreshold)

	if len(cands) == 0 {
		return nil, nil
	}

	normalized := y.Params.Coords == CoordsNormalized ||
		(y.Params.Coords == CoordsAuto && looksNormalized(cands))

	inW, inH := float32(lb.DstWidth), float32(lb.DstHeight)
	maxX, maxY := float32(lb.SrcWidth-1), float32(lb.SrcHeight-1)

	dets := make([]Detection, 0, len(cands))

	for _, c := range cands {

		if normalized {
			c.cx, c.w = c.cx*inW, c.w*inW
			c.cy, c.h = c.cy*inH, c.h*inH
		}

		x1, y1 := lb.ToSource(c.cx-c.w/2, c.cy-c.h/2)
		x2, y2 := lb.ToSource(c.cx+c.w/2, c.cy+c.h/2)

		x1 = clamp(x1, 0, maxX)
		y1 = clamp(y1, 0, maxY)
		x2 = clamp(x2, 0, maxX)
		y2 = clamp(y2, 0, maxY)

		box := Box{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}

		if !box.Valid() {
			continue
		}

		dets = append(dets, Detection{
			Box:        box,
			Confidence: c.score,
			ClassID:    c.class,
		})
	}

	dets = NMS(dets, nmsThreshold)

	if y.Params.MaxObjectNumber > 0 && len(dets) > y.Params.MaxObjectNumber {
		dets = dets[:y.Params.MaxObjectNumber]
	}

	for i := range dets {
		dets[i].ID = y.idGen.GetNext()

		if len(y.Params.Labels) > 0 {
			dets[i].ClassName = rtvideo.LabelName(y.Params.Labels, dets[i].ClassID)
		}
	}

	return dets, nil
}

// collect scans every candidate row for its best class and keeps those
// scoring at least confThreshold
func (y *YOLO) collect(v *tensorView, confThreshold float32) []candidate {

	var cands []candidate

	first := 4
	if v.objectness {
		first = 5
	}

	for i := 0; i < v.rows; i++ {

		bestClass := 0
		bestScore := v.at(i, first)

		for c := 1; c < v.classes; c++ {
			if s := v.at(i, first+c); s > bestScore {
				bestScore = s
				bestClass = c
			}
		}

		score := bestScore

		if v.objectness {
			score *= v.at(i, 4)
		}

		if y.Params.Scores == ScoresAuto && score > 1 {
			score /= 1000
		}

		// written as a negation so NaN scores are discarded
		if !(score >= confThreshold) {
			continue
		}

		cands = append(cands, candidate{
			cx:    v.at(i, 0),
			cy:    v.at(i, 1),
			w:     v.at(i, 2),
			h:     v.at(i, 3),
			score: min(score, 1),
			class: bestClass,
		})
	}

	return cands
}

// looksNormalized reports whether every candidate box value is within the
// normalised range
func looksNormalized(cands []candidate) bool {

	for _, c := range cands {
		if math.Abs(float64(c.cx)) > normalizedLimit || math.Abs(float64(c.cy)) > normalizedLimit ||
			c.w > normalizedLimit || c.h > normalizedLimit {
			return false
		}
	}

	return true
}
