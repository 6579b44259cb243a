// Package segment turns camera frames into hand-colored region masks.
package segment

import (
	"errors"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/fingertrack/internal/config"
)

// Filter constants.
const (
	// KernelSize is the side of the square structuring element used for
	// erosion and dilation.
	KernelSize = 3
	// MorphIterations is how many times erosion and dilation are applied.
	MorphIterations = 2
	// BlurSize is the Gaussian blur kernel size (5x5).
	BlurSize = 5
	// BlurSigma is the Gaussian blur sigma in both directions.
	BlurSigma = 100
)

// ErrBadFrame is returned for nil, empty or non-BGR frames.
var ErrBadFrame = errors.New("frame must be a non-empty 3-channel BGR image")

// Segmenter produces binary hand masks from BGR frames using an HSV color
// range followed by an opening (erode then dilate) and a Gaussian blur.
// The color range may be replaced at any time from another goroutine.
type Segmenter struct {
	mu     sync.RWMutex
	lower  [3]uint8
	upper  [3]uint8
	kernel gocv.Mat
}

// New creates a Segmenter for the given HSV bounds.
func New(lower, upper [3]uint8) *Segmenter {
	return &Segmenter{
		lower:  lower,
		upper:  upper,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(KernelSize, KernelSize)),
	}
}

// SetRange replaces the HSV bounds used by subsequent Segment calls.
func (s *Segmenter) SetRange(lower, upper [3]uint8) error {
	if err := config.ValidateRange(lower, upper); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lower = lower
	s.upper = upper
	return nil
}

// Range returns the current HSV bounds.
func (s *Segmenter) Range() (lower, upper [3]uint8) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lower, s.upper
}

// Segment returns a single-channel mask with the same dimensions as frame.
// The caller is responsible for closing the returned Mat.
//
// Steps:
// 1. Convert BGR to HSV
// 2. Keep pixels whose channels all fall within [lower, upper]
// 3. Erode with a 3x3 rectangle, 2 iterations
// 4. Dilate with the same kernel, 2 iterations
// 5. Gaussian blur 5x5
func (s *Segmenter) Segment(frame *gocv.Mat) (gocv.Mat, error) {
	if frame == nil || frame.Empty() || frame.Channels() != 3 {
		return gocv.NewMat(), ErrBadFrame
	}

	lower, upper := s.Range()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(*frame, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	gocv.InRangeWithScalar(hsv, toScalar(lower), toScalar(upper), &mask)

	for i := 0; i < MorphIterations; i++ {
		gocv.Erode(mask, &mask, s.kernel)
	}
	for i := 0; i < MorphIterations; i++ {
		gocv.Dilate(mask, &mask, s.kernel)
	}

	gocv.GaussianBlur(mask, &mask, image.Pt(BlurSize, BlurSize), BlurSigma, BlurSigma, gocv.BorderDefault)

	return mask, nil
}

// Close releases the structuring element.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.kernel.Empty() {
		s.kernel.Close()
		s.kernel = gocv.NewMat()
	}
}

func toScalar(v [3]uint8) gocv.Scalar {
	return gocv.NewScalar(float64(v[0]), float64(v[1]), float64(v[2]), 0)
}
