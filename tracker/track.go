package tracker

import "github.com/swdee/go-rtvideo/postprocess"

// TrackState represents the lifecycle state of a track
type TrackState int

const (
	// Tentative tracks have not yet had enough hits to be reported
	Tentative TrackState = 0
	// Confirmed tracks are reported every frame until deleted
	Confirmed TrackState = 1
	// Deleted tracks have been removed from the active set
	Deleted TrackState = 2
)

// String returns the name of the state
func (s TrackState) String() string {
	switch s {
	case Tentative:
		return "tentative"
	case Confirmed:
		return "confirmed"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Track is a persistent object hypothesis across frames
type Track struct {
	// ID is unique for the life of the Tracker and never reused
	ID int64
	// Box is the current bounding box
	Box postprocess.Box
	// VX and VY are the smoothed velocity of the box center in pixels per frame
	VX float32
	VY float32
	// Confidence is that of the last associated detection
	Confidence float32
	// ClassID and ClassName are those of the spawning detection
	ClassID   int
	ClassName string
	// DetectionID is the ID of the last associated detection
	DetectionID int64
	// Age is the number of frames since creation
	Age int
	// TotalHits is the number of frames with a successful association
	TotalHits int
	// TimeSinceUpdate is the number of frames since the last association
	TimeSinceUpdate int
	State           TrackState

	trail  Trail
	kalman *KalmanState
}

// newTrack creates a tentative track from an unassociated detection
func newTrack(id int64, det postprocess.Detection, trailLen int) Track {

	t := Track{
		ID:          id,
		Box:         det.Box,
		Confidence:  det.Confidence,
		ClassID:     det.ClassID,
		ClassName:   det.ClassName,
		DetectionID: det.ID,
		TotalHits:   1,
		State:       Tentative,
		trail:       newTrail(trailLen),
	}

	t.trail.Add(det.Box)

	return t
}

// confirm moves a tentative track to Confirmed once it has minHits hits
func (t *Track) confirm(minHits int) {
	if t.State == Tentative && t.TotalHits >= minHits {
		t.State = Confirmed
	}
}

// TrackedObject is the read only projection of a track for one frame
type TrackedObject struct {
	// ID is the persistent track ID
	ID  int64
	Box postprocess.Box
	// VX and VY are the smoothed velocity of the box center
	VX         float32
	VY         float32
	Confidence float32
	ClassID    int
	ClassName  string
	// DetectionID links the object to the detection last associated with it
	DetectionID     int64
	Age             int
	TotalHits       int
	TimeSinceUpdate int
	State           TrackState
	// Trail is the recent history of box centers, oldest first
	Trail []Point
}

// object projects the track into a TrackedObject
func (t *Track) object() TrackedObject {
	return TrackedObject{
		ID:              t.ID,
		Box:             t.Box,
		VX:              t.VX,
		VY:              t.VY,
		Confidence:      t.Confidence,
		ClassID:         t.ClassID,
		ClassName:       t.ClassName,
		DetectionID:     t.DetectionID,
		Age:             t.Age,
		TotalHits:       t.TotalHits,
		TimeSinceUpdate: t.TimeSinceUpdate,
		State:           t.State,
		Trail:           t.trail.Points(),
	}
}
