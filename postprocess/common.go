package postprocess

// clamp restricts the value val to be within the range lo and hi
func clamp(val, lo, hi float32) float32 {

	if val > lo {

		if val < hi {
			return val
		}

		return hi
	}

	return lo
}
