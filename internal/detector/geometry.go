package detector

import (
	"image"
	"math"
)

// maxGapAngle is the widest angle at a defect's far point that still counts
// as the gap between two raised fingers.
const maxGapAngle = math.Pi / 2

// distance returns the Euclidean distance between two pixel positions.
func distance(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// gapAngle returns the angle at far in the triangle (start, end, far) using
// the law of cosines. The result is NaN when the triangle is degenerate
// (a zero-length side) or rounding pushes the cosine outside [-1, 1].
func gapAngle(start, end, far image.Point) float64 {
	a := distance(start, end)
	b := distance(far, start)
	c := distance(far, end)

	return math.Acos((b*b + c*c - a*a) / (2 * b * c))
}

// isFingerGap reports whether a convexity defect is narrow enough to be the
// space between two fingers. NaN angles never qualify.
func isFingerGap(start, end, far image.Point) bool {
	return gapAngle(start, end, far) <= maxGapAngle
}

// fingerCount converts a number of finger gaps into a finger count. The thumb
// does not produce a countable gap, hence the +1.
func fingerCount(gaps int) int {
	n := gaps + 1
	if n < 0 {
		return 0
	}
	if n > MaxFingers {
		return MaxFingers
	}
	return n
}

// confidence scales the area-derived score by sensitivity.
func confidence(area, maxArea, sensitivity float64) float64 {
	return math.Min(1.0, area/maxArea) * sensitivity
}

// hullIsMonotonic reports whether hull indices into a contour of npoints
// points run in one cyclic direction. Self-intersecting contours produce
// hulls that fail this check, and OpenCV refuses to compute convexity
// defects for them.
func hullIsMonotonic(hull []int, npoints int) bool {
	n := len(hull)
	if n < 3 {
		return false
	}

	for _, idx := range hull {
		if idx < 0 || idx >= npoints {
			return false
		}
	}

	ascents, descents := 0, 0
	for i := 0; i < n; i++ {
		cur, next := hull[i], hull[(i+1)%n]
		switch {
		case next > cur:
			ascents++
		case next < cur:
			descents++
		default:
			return false
		}
	}

	// A rotated ascending run has exactly one descent at the wrap point,
	// a rotated descending run exactly one ascent.
	return descents == 1 || ascents == 1
}
