package tracker

import (
	"fmt"
	"strings"

	"github.com/swdee/go-rtvideo/postprocess"
	"go.uber.org/zap"
)

// velocitySmoothing is the weight kept from the previous velocity estimate
const velocitySmoothing = 0.7

// MotionModel selects how a track's box is predicted between frames
type MotionModel int

const (
	// MotionVelocity extrapolates the box linearly by an exponentially
	// smoothed velocity and replaces it with each associated detection
	MotionVelocity MotionModel = 0
	// MotionKalman filters the box with a constant velocity Kalman filter
	MotionKalman MotionModel = 1
)

// String returns the configuration name of the model
func (m MotionModel) String() string {
	if m == MotionKalman {
		return "kalman"
	}
	return "velocity"
}

// ParseMotionModel returns the MotionModel for its configuration name
func ParseMotionModel(s string) (MotionModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "velocity":
		return MotionVelocity, nil
	case "kalman":
		return MotionKalman, nil
	}
	return MotionVelocity, fmt.Errorf("unknown motion model %q", s)
}

// predict advances the track one frame
func (tr *Tracker) predict(t *Track) {

	t.Age++
	t.TimeSinceUpdate++

	if tr.params.Motion != MotionKalman {
		t.Box = t.Box.Translate(t.VX, t.VY)
		return
	}

	if t.kalman == nil {
		t.kalman = tr.kf.Initiate(BoxToXyah(t.Box))
	}

	tr.kf.Predict(t.kalman)

	if box := XyahToBox(Xyah(t.kalman.Mean[:4])); box.Valid() {
		t.Box = box
		t.VX = float32(t.kalman.Mean[4])
		t.VY = float32(t.kalman.Mean[5])
		return
	}

	// filter diverged, fall back to linear extrapolation
	t.kalman = nil
	t.Box = t.Box.Translate(t.VX, t.VY)
}

// update corrects the track with its associated detection
func (tr *Tracker) update(t *Track, det postprocess.Detection) {

	box := det.Box

	if tr.params.Motion == MotionKalman {
		box = tr.correct(t, det.Box)
	} else {
		ocx, ocy := t.Box.Center()
		ncx, ncy := det.Box.Center()
		t.VX = velocitySmoothing*t.VX + (1-velocitySmoothing)*(ncx-ocx)
		t.VY = velocitySmoothing*t.VY + (1-velocitySmoothing)*(ncy-ocy)
	}

	t.Box = box
	t.Confidence = det.Confidence
	t.DetectionID = det.ID
	t.TotalHits++
	t.TimeSinceUpdate = 0
	t.trail.Add(box)
	t.confirm(tr.params.MinHits)
}

// correct runs the Kalman update and returns the filtered box
func (tr *Tracker) correct(t *Track, measured postprocess.Box) postprocess.Box {

	if t.kalman == nil {
		t.kalman = tr.kf.Initiate(BoxToXyah(measured))
		return measured
	}

	if err := tr.kf.Update(t.kalman, BoxToXyah(measured)); err != nil {
		tr.log.Debug("kalman update failed, reinitialising track",
			zap.Int64("track_id", t.ID), zap.Error(err))
		t.kalman = tr.kf.Initiate(BoxToXyah(measured))
		return measured
	}

	box := XyahToBox(Xyah(t.kalman.Mean[:4]))

	if !box.Valid() {
		t.kalman = tr.kf.Initiate(BoxToXyah(measured))
		return measured
	}

	t.VX = float32(t.kalman.Mean[4])
	t.VY = float32(t.kalman.Mean[5])

	return box
}
