package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/go-rtvideo/postprocess"
)

var detID int64

func det(x, y, w, h float32) postprocess.Detection {
	detID++
	return postprocess.Detection{
		ID:         detID,
		Box:        postprocess.Box{X: x, Y: y, W: w, H: h},
		Confidence: 0.9,
	}
}

func TestScenarioAUpdateInPlace(t *testing.T) {

	tr := New(DefaultParams(), nil)

	tr.Update([]postprocess.Detection{det(100, 100, 50, 50)})
	require.Equal(t, 1, tr.ActiveCount())

	next := det(102, 101, 50, 50)
	require.Greater(t, postprocess.IOU(postprocess.Box{X: 100, Y: 100, W: 50, H: 50}, next.Box), float32(0.8))

	tr.Update([]postprocess.Detection{next})

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)

	trk := tracks[0]
	assert.Equal(t, int64(1), trk.ID)
	assert.Equal(t, 2, trk.TotalHits)
	assert.Equal(t, 0, trk.TimeSinceUpdate)
	assert.Equal(t, 1, trk.Age)
	assert.Equal(t, next.Box, trk.Box)
	assert.Equal(t, next.ID, trk.DetectionID)
	assert.InDelta(t, 0.6, trk.VX, 1e-6)
	assert.InDelta(t, 0.3, trk.VY, 1e-6)
}

func TestScenarioBSpawnOnNoOverlap(t *testing.T) {

	tr := New(DefaultParams(), nil)

	tr.Update([]postprocess.Detection{det(100, 100, 50, 50)})
	tr.Update([]postprocess.Detection{det(400, 400, 50, 50)})

	tracks := tr.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.Equal(t, 1, tracks[0].TimeSinceUpdate)
	assert.Equal(t, int64(2), tracks[1].ID)
	assert.Equal(t, 1, tracks[1].TotalHits)
	assert.Equal(t, Tentative, tracks[1].State)
}

func TestConfirmationBoundary(t *testing.T) {

	p := DefaultParams()
	p.MinHits = 3
	tr := New(p, nil)

	box := []postprocess.Detection{det(10, 10, 40, 40)}

	// hits = min_hits - 1
	assert.Empty(t, tr.Update(box))
	assert.Empty(t, tr.Update(box))

	trk, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, 2, trk.TotalHits)
	assert.Equal(t, Tentative, trk.State)

	// hits = min_hits
	out := tr.Update(box)
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].TotalHits)
	assert.Equal(t, Confirmed, out[0].State)

	// hits = min_hits + 1
	out = tr.Update(box)
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].TotalHits)
}

func TestMinHitsOneConfirmsOnSpawn(t *testing.T) {

	p := DefaultParams()
	p.MinHits = 1
	tr := New(p, nil)

	out := tr.Update([]postprocess.Detection{det(10, 10, 40, 40)})
	require.Len(t, out, 1)
	assert.Equal(t, Confirmed, out[0].State)
}

func TestScenarioCRemovalBoundary(t *testing.T) {

	p := DefaultParams()
	p.MaxDisappeared = 30
	tr := New(p, nil)

	box := []postprocess.Detection{det(10, 10, 40, 40)}

	for i := 0; i < 3; i++ {
		tr.Update(box)
	}

	for frame := 1; frame <= 29; frame++ {
		out := tr.Update(nil)
		require.Len(t, out, 1, "frame %d", frame)
		assert.Equal(t, frame, out[0].TimeSinceUpdate)
	}

	// time since update equals max disappeared, kept but not emitted
	out := tr.Update(nil)
	assert.Empty(t, out)
	assert.Equal(t, 1, tr.ActiveCount())

	trk, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, 30, trk.TimeSinceUpdate)

	// first frame exceeding max disappeared
	out = tr.Update(nil)
	assert.Empty(t, out)
	assert.Equal(t, 0, tr.ActiveCount())

	_, ok = tr.Get(1)
	assert.False(t, ok)
}

func TestTrackIDsNeverReused(t *testing.T) {

	p := DefaultParams()
	p.MaxDisappeared = 2
	tr := New(p, nil)

	grid := func(offset float32) []postprocess.Detection {
		var dets []postprocess.Detection
		for i := 0; i < 10; i++ {
			for j := 0; j < 10; j++ {
				dets = append(dets, det(offset+float32(i)*60, offset+float32(j)*60, 20, 20))
			}
		}
		return dets
	}

	seen := make(map[int64]bool)
	record := func() {
		for _, trk := range tr.Tracks() {
			seen[trk.ID] = true
		}
	}

	first := grid(0)
	tr.Update(first)
	require.Equal(t, 100, tr.ActiveCount())
	record()

	// keep every other track alive until the rest are deleted
	half := make([]postprocess.Detection, 0, 50)
	for i := 0; i < len(first); i += 2 {
		half = append(half, first[i])
	}

	for i := 0; i < p.MaxDisappeared+1; i++ {
		tr.Update(half)
	}

	require.Equal(t, 50, tr.ActiveCount())

	tr.Update(append(half, grid(2000)...))
	require.Equal(t, 150, tr.ActiveCount())

	for _, trk := range tr.Tracks() {
		if trk.TotalHits == 1 {
			assert.False(t, seen[trk.ID], "track id %d reused", trk.ID)
			assert.Greater(t, trk.ID, int64(100))
		}
	}

	record()
	assert.Len(t, seen, 200)
	assert.Equal(t, int64(200), tr.LastID())

	tr.Reset()
	assert.Equal(t, 0, tr.ActiveCount())

	tr.Update([]postprocess.Detection{det(5, 5, 10, 10)})
	assert.Equal(t, int64(201), tr.Tracks()[0].ID)
}

func TestMalformedDetectionsDropped(t *testing.T) {

	tr := New(DefaultParams(), nil)

	nan := float32(math.NaN())

	out := tr.Update([]postprocess.Detection{
		det(10, 10, 0, 20),
		det(10, 10, 20, -5),
		det(nan, 10, 20, 20),
		{Box: postprocess.Box{X: 1, Y: 1, W: 5, H: 5}, Confidence: nan},
	})

	assert.Empty(t, out)
	assert.Equal(t, 0, tr.ActiveCount())
}

func TestGreedyTieBreakFirstColumn(t *testing.T) {

	tr := New(DefaultParams(), nil)

	tr.Update([]postprocess.Detection{det(0, 0, 10, 10)})

	a := det(1, 0, 10, 10)
	b := det(0, 1, 10, 10)
	require.Equal(t, postprocess.IOU(a.Box, postprocess.Box{W: 10, H: 10}),
		postprocess.IOU(b.Box, postprocess.Box{W: 10, H: 10}))

	tr.Update([]postprocess.Detection{a, b})

	tracks := tr.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, a.ID, tracks[0].DetectionID)
	assert.Equal(t, b.ID, tracks[1].DetectionID)
}

func TestGreedyMatchRowOrder(t *testing.T) {

	ious := [][]float32{
		{0.6, 0.5},
		{0.9, 0.1},
	}

	// row 0 claims column 0 first even though row 1 overlaps it more
	matches := greedyMatch(ious, 2, 0.3)
	assert.Equal(t, []match{{track: 0, det: 0}}, matches)

	// threshold is exclusive
	assert.Empty(t, greedyMatch([][]float32{{0.3}}, 1, 0.3))
}

func TestOptimalMatch(t *testing.T) {

	ious := [][]float32{
		{0.6, 0.5},
		{0.9, 0.1},
	}

	matches, err := optimalMatch(ious, 2, 0.3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []match{{track: 0, det: 1}, {track: 1, det: 0}}, matches)

	// nothing above threshold leaves everything unmatched
	matches, err = optimalMatch([][]float32{{0.1, 0.2}}, 2, 0.3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOptimalAssociationTracker(t *testing.T) {

	p := DefaultParams()
	p.Association = AssociateOptimal
	tr := New(p, nil)

	tr.Update([]postprocess.Detection{det(0, 0, 100, 100), det(200, 0, 100, 100)})
	tr.Update([]postprocess.Detection{det(205, 0, 100, 100), det(3, 0, 100, 100)})

	tracks := tr.Tracks()
	require.Len(t, tracks, 2)
	assert.Equal(t, float32(3), tracks[0].Box.X)
	assert.Equal(t, float32(205), tracks[1].Box.X)
	assert.Equal(t, 2, tracks[0].TotalHits)
	assert.Equal(t, 2, tracks[1].TotalHits)
}

func TestClassAwareAssociation(t *testing.T) {

	mk := func(class int) postprocess.Detection {
		d := det(10, 10, 50, 50)
		d.ClassID = class
		return d
	}

	p := DefaultParams()
	tr := New(p, nil)
	tr.Update([]postprocess.Detection{mk(0)})
	tr.Update([]postprocess.Detection{mk(1)})
	assert.Equal(t, 1, tr.ActiveCount())

	p.ClassAware = true
	tr = New(p, nil)
	tr.Update([]postprocess.Detection{mk(0)})
	tr.Update([]postprocess.Detection{mk(1)})
	assert.Equal(t, 2, tr.ActiveCount())
}

func TestTrackKeepsSpawnClass(t *testing.T) {

	p := DefaultParams()
	p.MinHits = 1
	tr := New(p, nil)

	car := det(10, 10, 50, 50)
	car.ClassID = 2
	car.ClassName = "car"
	tr.Update([]postprocess.Detection{car})

	truck := det(10, 10, 50, 50)
	truck.ClassID = 7
	truck.ClassName = "truck"
	tracks := tr.Update([]postprocess.Detection{truck})

	require.Len(t, tracks, 1)
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.Equal(t, 2, tracks[0].TotalHits)
	assert.Equal(t, truck.ID, tracks[0].DetectionID)
	assert.Equal(t, 2, tracks[0].ClassID)
	assert.Equal(t, "car", tracks[0].ClassName)
}

func TestMaxTracks(t *testing.T) {

	p := DefaultParams()
	p.MaxTracks = 2
	tr := New(p, nil)

	tr.Update([]postprocess.Detection{
		det(0, 0, 10, 10), det(100, 0, 10, 10), det(200, 0, 10, 10),
	})

	assert.Equal(t, 2, tr.ActiveCount())
}

func TestVelocityPrediction(t *testing.T) {

	tr := New(DefaultParams(), nil)

	// object moving 10px per frame
	for i := 0; i < 10; i++ {
		tr.Update([]postprocess.Detection{det(float32(i*10), 0, 50, 50)})
	}

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Greater(t, tracks[0].VX, float32(0))

	x := tracks[0].Box.X
	vx := tracks[0].VX

	tr.Update(nil)
	tracks = tr.Tracks()
	assert.InDelta(t, x+vx, tracks[0].Box.X, 1e-4)
}

func TestKalmanMotion(t *testing.T) {

	p := DefaultParams()
	p.Motion = MotionKalman
	tr := New(p, nil)

	for i := 0; i < 20; i++ {
		tr.Update([]postprocess.Detection{det(float32(i*8), 20, 60, 120)})
	}

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, 20, tracks[0].TotalHits)
	assert.Greater(t, tracks[0].VX, float32(2))

	// coasting keeps moving forward
	x := tracks[0].Box.X
	tr.Update(nil)
	assert.Greater(t, tr.Tracks()[0].Box.X, x)
}

func TestTrail(t *testing.T) {

	p := DefaultParams()
	p.TrailLength = 3
	tr := New(p, nil)

	for i := 0; i < 5; i++ {
		tr.Update([]postprocess.Detection{det(float32(i*2), 0, 20, 20)})
	}

	trail := tr.Tracks()[0].Trail
	require.Len(t, trail, 3)
	assert.Equal(t, Point{X: 18, Y: 10}, trail[2])
	assert.Equal(t, Point{X: 14, Y: 10}, trail[0])
}

func TestParseOptions(t *testing.T) {

	a, err := ParseAssociation("optimal")
	require.NoError(t, err)
	assert.Equal(t, AssociateOptimal, a)

	_, err = ParseAssociation("hungarian")
	assert.Error(t, err)

	m, err := ParseMotionModel("kalman")
	require.NoError(t, err)
	assert.Equal(t, MotionKalman, m)
	assert.Equal(t, "kalman", m.String())

	_, err = ParseMotionModel("")
	assert.NoError(t, err)
}
