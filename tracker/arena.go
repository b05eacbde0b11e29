package tracker

// arena stores tracks by value in reusable slots.  A slot freed by deletion
// goes on the free list and is handed to the next spawned track, while
// order keeps the live slots in creation order for association.
type arena struct {
	slots []Track
	free  []int
	// index maps a track ID to its slot
	index map[int64]int
	// order are the live slots, oldest track first
	order []int
}

func newArena() *arena {
	return &arena{index: make(map[int64]int)}
}

// insert stores the track and returns its slot
func (a *arena) insert(t Track) int {

	var slot int

	if n := len(a.free); n > 0 {
		slot = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[slot] = t
	} else {
		slot = len(a.slots)
		a.slots = append(a.slots, t)
	}

	a.index[t.ID] = slot
	a.order = append(a.order, slot)

	return slot
}

// at returns the track in slot
func (a *arena) at(slot int) *Track {
	return &a.slots[slot]
}

// get returns the live track with the given ID
func (a *arena) get(id int64) (*Track, bool) {

	slot, ok := a.index[id]

	if !ok {
		return nil, false
	}

	return &a.slots[slot], true
}

// removeIf deletes every live track for which fn returns true, keeping the
// creation order of the rest, and returns the number removed
func (a *arena) removeIf(fn func(*Track) bool) int {

	kept := a.order[:0]
	removed := 0

	for _, slot := range a.order {
		t := &a.slots[slot]

		if !fn(t) {
			kept = append(kept, slot)
			continue
		}

		delete(a.index, t.ID)
		t.State = Deleted
		t.kalman = nil
		t.trail = Trail{}
		a.free = append(a.free, slot)
		removed++
	}

	a.order = kept

	return removed
}

// live returns the number of live tracks
func (a *arena) live() int {
	return len(a.order)
}

// reset drops all tracks
func (a *arena) reset() {
	a.slots = a.slots[:0]
	a.free = a.free[:0]
	a.order = a.order[:0]
	a.index = make(map[int64]int)
}
