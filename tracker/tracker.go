// Package tracker implements SORT style multi object tracking.  Each frame
// the active tracks are predicted forward, associated with the frame's
// detections by IOU, updated, and pruned once they have gone unmatched for
// too long.  Unmatched detections spawn new tracks.
package tracker

import (
	"math"

	"github.com/swdee/go-rtvideo/postprocess"
	"go.uber.org/zap"
)

// Params defines the tracker configuration
type Params struct {
	// IOUThreshold is the IOU a detection must exceed to associate with a
	// track
	IOUThreshold float32
	// MinHits is the number of associations before a track is confirmed
	MinHits int
	// MaxDisappeared is the number of frames a track may go unmatched, it is
	// removed on the first frame its time since update exceeds this
	MaxDisappeared int
	// MaxTracks caps the number of live tracks, detections that would spawn
	// beyond it are ignored.  Zero for no limit.
	MaxTracks int
	// Association is the matching strategy
	Association Association
	// Motion is the motion model
	Motion MotionModel
	// ClassAware restricts matching to detections of the track's class
	ClassAware bool
	// TrailLength is the number of past centers kept per track
	TrailLength int
}

// DefaultParams returns the SORT defaults
// - IOU Threshold: 0.3
// - Min Hits: 3
// - Max Disappeared: 30 frames
func DefaultParams() Params {
	return Params{
		IOUThreshold:   0.3,
		MinHits:        3,
		MaxDisappeared: 30,
		TrailLength:    30,
	}
}

// Tracker maintains the set of active tracks.  It is owned by a single
// goroutine and not safe for concurrent use.
type Tracker struct {
	params Params
	tracks *arena
	// idGen issues track IDs, it survives Reset so IDs are never reused
	idGen *postprocess.IDGenerator
	kf    *KalmanFilter
	log   *zap.Logger
	// frames is the number of Update calls since creation or Reset
	frames int64
	// scratch slices reused between frames
	rows  []*Track
	valid []postprocess.Detection
}

// New returns a Tracker, a nil logger disables logging
func New(p Params, log *zap.Logger) *Tracker {

	if log == nil {
		log = zap.NewNop()
	}

	if p.MinHits < 1 {
		p.MinHits = 1
	}

	return &Tracker{
		params: p,
		tracks: newArena(),
		idGen:  postprocess.NewIDGenerator(),
		kf:     DefaultKalmanFilter(),
		log:    log,
	}
}

// Params returns the tracker configuration
func (tr *Tracker) Params() Params {
	return tr.params
}

// Update runs one frame of predict, associate, update, spawn and prune and
// returns the confirmed tracks seen within MaxDisappeared frames.
// Detections with a non positive or non finite box are dropped before
// association.
func (tr *Tracker) Update(dets []postprocess.Detection) []TrackedObject {

	tr.frames++

	// predict
	tr.rows = tr.rows[:0]

	for _, slot := range tr.tracks.order {
		t := tr.tracks.at(slot)
		tr.predict(t)
		tr.rows = append(tr.rows, t)
	}

	tr.valid = tr.valid[:0]

	for _, d := range dets {
		if d.Box.Valid() && !math.IsNaN(float64(d.Confidence)) {
			tr.valid = append(tr.valid, d)
		}
	}

	if dropped := len(dets) - len(tr.valid); dropped > 0 {
		tr.log.Debug("dropped malformed detections", zap.Int("count", dropped),
			zap.Int64("frame", tr.frames))
	}

	// associate and update
	matches := tr.associate(tr.rows, tr.valid)
	assigned := make([]bool, len(tr.valid))

	for _, m := range matches {
		tr.update(tr.rows[m.track], tr.valid[m.det])
		assigned[m.det] = true
	}

	// spawn, slots from the arena may move so rows are not used after here
	for i, d := range tr.valid {

		if assigned[i] {
			continue
		}

		if tr.params.MaxTracks > 0 && tr.tracks.live() >= tr.params.MaxTracks {
			tr.log.Debug("track limit reached, detection not tracked",
				zap.Int("max_tracks", tr.params.MaxTracks), zap.Int64("detection_id", d.ID))
			continue
		}

		t := newTrack(tr.idGen.GetNext(), d, tr.params.TrailLength)
		t.confirm(tr.params.MinHits)
		tr.tracks.insert(t)
	}

	// prune
	removed := tr.tracks.removeIf(func(t *Track) bool {
		return t.TimeSinceUpdate > tr.params.MaxDisappeared
	})

	if removed > 0 {
		tr.log.Debug("removed tracks", zap.Int("count", removed),
			zap.Int64("frame", tr.frames))
	}

	// emit
	var out []TrackedObject

	for _, slot := range tr.tracks.order {
		t := tr.tracks.at(slot)

		if t.State == Confirmed && t.TimeSinceUpdate < tr.params.MaxDisappeared {
			out = append(out, t.object())
		}
	}

	return out
}

// associate matches the predicted tracks against the valid detections
func (tr *Tracker) associate(rows []*Track, dets []postprocess.Detection) []match {

	if len(rows) == 0 || len(dets) == 0 {
		return nil
	}

	ious := iouMatrix(rows, dets, tr.params.ClassAware)

	if tr.params.Association == AssociateOptimal {
		matches, err := optimalMatch(ious, len(dets), tr.params.IOUThreshold)

		if err == nil {
			return matches
		}

		tr.log.Warn("optimal association failed, using greedy", zap.Error(err),
			zap.Int64("frame", tr.frames))
	}

	return greedyMatch(ious, len(dets), tr.params.IOUThreshold)
}

// Tracks returns a snapshot of every live track including tentative ones,
// oldest first
func (tr *Tracker) Tracks() []TrackedObject {

	out := make([]TrackedObject, 0, tr.tracks.live())

	for _, slot := range tr.tracks.order {
		out = append(out, tr.tracks.at(slot).object())
	}

	return out
}

// Get returns the live track with the given ID
func (tr *Tracker) Get(id int64) (TrackedObject, bool) {

	t, ok := tr.tracks.get(id)

	if !ok {
		return TrackedObject{}, false
	}

	return t.object(), true
}

// ActiveCount returns the number of live tracks
func (tr *Tracker) ActiveCount() int {
	return tr.tracks.live()
}

// LastID returns the most recently issued track ID, zero if none
func (tr *Tracker) LastID() int64 {
	return tr.idGen.Last()
}

// Reset drops all tracks.  Track IDs continue from where they were so an ID
// is never issued twice by the same Tracker.
func (tr *Tracker) Reset() {
	tr.tracks.reset()
	tr.frames = 0
}
