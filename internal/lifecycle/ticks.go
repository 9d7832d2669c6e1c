package lifecycle

// alignRange widens [currentTick-width, currentTick+width] outward to the
// nearest multiples of the pool's tick spacing. Outward rounding keeps the
// requested width fully inside the range; integer division alone would round
// toward zero and clip one side for negative ticks.
func alignRange(currentTick, width, spacing int64) (int64, int64) {
	lower := floorDiv(currentTick-width, spacing) * spacing
	upper := ceilDiv(currentTick+width, spacing) * spacing
	if lower == upper {
		upper += spacing
	}
	return lower, upper
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}
