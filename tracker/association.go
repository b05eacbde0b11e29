package tracker

import (
	"fmt"
	"strings"

	"github.com/swdee/go-rtvideo/postprocess"
)

// Association selects how detections are matched to tracks
type Association int

const (
	// AssociateGreedy matches each track in creation order to the unassigned
	// detection with the highest IOU.  It is not globally optimal, a near tie
	// can resolve differently to bipartite matching, but it is fast and its
	// tie break is deterministic: the first detection column wins.
	AssociateGreedy Association = 0
	// AssociateOptimal solves the assignment that minimises the total
	// 1-IOU cost with the Jonker-Volgenant algorithm
	AssociateOptimal Association = 1
)

// String returns the configuration name of the strategy
func (a Association) String() string {
	if a == AssociateOptimal {
		return "optimal"
	}
	return "greedy"
}

// ParseAssociation returns the Association for its configuration name
func ParseAssociation(s string) (Association, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "greedy":
		return AssociateGreedy, nil
	case "optimal":
		return AssociateOptimal, nil
	}
	return AssociateGreedy, fmt.Errorf("unknown association %q", s)
}

// match is an associated track row and detection column
type match struct {
	track int
	det   int
}

// iouMatrix calculates the IOU of every track (rows) against every detection
// (columns).  With classAware set pairs of differing class score zero.
func iouMatrix(tracks []*Track, dets []postprocess.Detection, classAware bool) [][]float32 {

	ious := make([][]float32, len(tracks))

	for r, t := range tracks {
		ious[r] = make([]float32, len(dets))

		for c := range dets {
			if classAware && t.ClassID != dets[c].ClassID {
				continue
			}
			ious[r][c] = postprocess.IOU(t.Box, dets[c].Box)
		}
	}

	return ious
}

// greedyMatch walks the track rows in order, pairing each with the
// unassigned detection of maximum IOU if that IOU exceeds threshold
func greedyMatch(ious [][]float32, nDets int, threshold float32) []match {

	var matches []match
	assigned := make([]bool, nDets)

	for r, row := range ious {

		best := -1
		maxIOU := threshold

		for c, iou := range row {
			if !assigned[c] && iou > maxIOU {
				maxIOU = iou
				best = c
			}
		}

		if best >= 0 {
			assigned[best] = true
			matches = append(matches, match{track: r, det: best})
		}
	}

	return matches
}

// optimalMatch solves the minimum 1-IOU cost assignment, only pairs whose
// IOU exceeds threshold are kept
func optimalMatch(ious [][]float32, nDets int, threshold float32) ([]match, error) {

	if len(ious) == 0 || nDets == 0 {
		return nil, nil
	}

	cost := make([][]float32, len(ious))

	for r, row := range ious {
		cost[r] = make([]float32, nDets)

		for c, iou := range row {
			cost[r][c] = 1 - iou
		}
	}

	rowsol, _, err := solveAssignment(cost, 1-threshold)

	if err != nil {
		return nil, err
	}

	var matches []match

	for r, c := range rowsol {
		if c >= 0 && ious[r][c] > threshold {
			matches = append(matches, match{track: r, det: c})
		}
	}

	return matches, nil
}
