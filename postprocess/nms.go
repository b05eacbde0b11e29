package postprocess

import (
	"sort"
)

// SortByConfidence orders detections by confidence, highest first.  The sort
// is stable so equal scores keep their decode order.
func SortByConfidence(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}

// NMS implements class-wise Non-Maximum Suppression.  Detections are sorted by
// confidence then each kept box suppresses any later box of the same class
// whose IOU with it exceeds threshold.  The survivors are returned in
// descending confidence order, reusing the backing array of dets.
func NMS(dets []Detection, threshold float32) []Detection {

	if len(dets) < 2 {
		return dets
	}

	SortByConfidence(dets)

	suppressed := make([]bool, len(dets))
	kept := dets[:0]

	for i := range dets {

		if suppressed[i] {
			continue
		}

		for j := i + 1; j < len(dets); j++ {

			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}

			if IOU(dets[i].Box, dets[j].Box) > threshold {
				suppressed[j] = true
			}
		}

		// i is never less than len(kept) so this does not clobber unread
		// entries
		kept = append(kept, dets[i])
	}

	return kept
}
