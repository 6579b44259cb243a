package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// result is the per-contour outcome of analysis.
type result int

const (
	accepted result = iota
	// rejectedArea marks contours outside [MinArea, MaxArea].
	rejectedArea
	// skippedGeometry marks contours whose hull or defects cannot be computed.
	skippedGeometry
)

// ContourDetector implements Detector with the contour and convexity defect
// heuristic: every sufficiently large blob is a hand, and every sharp inward
// notch of its outline is a gap between two fingers.
type ContourDetector struct {
	mu     sync.RWMutex
	config Config
}

// NewContourDetector creates a ContourDetector with the given configuration.
// Zero area bounds fall back to MinArea and MaxArea.
func NewContourDetector(config Config) *ContourDetector {
	if config.MinArea <= 0 {
		config.MinArea = MinArea
	}
	if config.MaxArea <= 0 {
		config.MaxArea = MaxArea
	}
	return &ContourDetector{config: config}
}

// SetSensitivity sets the confidence multiplier applied to new observations.
func (d *ContourDetector) SetSensitivity(sensitivity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Sensitivity = sensitivity
}

// Sensitivity returns the current confidence multiplier.
func (d *ContourDetector) Sensitivity() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config.Sensitivity
}

// Detect finds hand candidates in mask.
//
// Algorithm:
// 1. Find all contours (full hierarchy, simple chain approximation)
// 2. Drop contours with area outside [MinArea, MaxArea]
// 3. Compute the index convex hull and its convexity defects
// 4. Count defects whose far-point angle is at most 90 degrees
// 5. Fingers = gaps + 1, clamped to [0, 5]
// 6. Centroid from contour moments, (0, 0) when the area moment is zero
// 7. Confidence = min(1, area/MaxArea) * sensitivity
//
// A contour that cannot be analyzed is skipped without affecting the others.
func (d *ContourDetector) Detect(mask *gocv.Mat) ([]Observation, error) {
	if mask == nil || mask.Empty() {
		return nil, ErrEmptyMask
	}

	d.mu.RLock()
	config := d.config
	d.mu.RUnlock()

	contours := gocv.FindContours(*mask, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	hands := make([]Observation, 0, 2)
	for i := 0; i < contours.Size(); i++ {
		obs, res := analyzeContour(contours.At(i), config)
		if res != accepted {
			continue
		}
		hands = append(hands, obs)
	}

	return hands, nil
}

// Close is a no-op; the detector holds no native resources between calls.
func (d *ContourDetector) Close() error {
	return nil
}

// analyzeContour turns one contour into an observation or reports why it was
// left out.
func analyzeContour(contour gocv.PointVector, config Config) (Observation, result) {
	if contour.Size() == 0 {
		return Observation{}, skippedGeometry
	}

	area := gocv.ContourArea(contour)
	if area < config.MinArea || area > config.MaxArea {
		return Observation{}, rejectedArea
	}

	gaps, res := countGaps(contour)
	if res != accepted {
		return Observation{}, res
	}

	return Observation{
		FingerCount: fingerCount(gaps),
		Centroid:    centroid(contour),
		Confidence:  confidence(area, config.MaxArea, config.Sensitivity),
		Area:        area,
	}, accepted
}

// countGaps counts the convexity defects of contour that look like finger
// gaps. Contours with fewer than MinHullPoints contour or hull points, or
// without any defects, have zero gaps.
func countGaps(contour gocv.PointVector) (int, result) {
	npoints := contour.Size()
	if npoints < MinHullPoints {
		return 0, accepted
	}

	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(contour, &hull, false, false)

	if hull.Rows() < MinHullPoints {
		return 0, accepted
	}

	indices := make([]int, hull.Rows())
	for i := range indices {
		indices[i] = int(hull.GetIntAt(i, 0))
	}
	if !hullIsMonotonic(indices, npoints) {
		return 0, skippedGeometry
	}

	defects := gocv.NewMat()
	defer defects.Close()
	gocv.ConvexityDefects(contour, hull, &defects)

	if defects.Empty() {
		return 0, accepted
	}

	gaps := 0
	for i := 0; i < defects.Rows(); i++ {
		v := defects.GetVeciAt(i, 0)
		if len(v) < 3 {
			return 0, skippedGeometry
		}

		s, e, f := int(v[0]), int(v[1]), int(v[2])
		if !inRange(s, npoints) || !inRange(e, npoints) || !inRange(f, npoints) {
			return 0, skippedGeometry
		}

		if isFingerGap(contour.At(s), contour.At(e), contour.At(f)) {
			gaps++
		}
	}

	return gaps, accepted
}

// centroid returns the contour's center of mass from its spatial moments.
func centroid(contour gocv.PointVector) image.Point {
	points := gocv.NewMatFromPointVector(contour, true)
	defer points.Close()

	m := gocv.Moments(points, false)
	if m["m00"] == 0 {
		return image.Point{}
	}

	return image.Point{
		X: int(m["m10"] / m["m00"]),
		Y: int(m["m01"] / m["m00"]),
	}
}

func inRange(idx, n int) bool {
	return idx >= 0 && idx < n
}
