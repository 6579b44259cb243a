package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu    sync.Mutex
	hands []Observation
	err   error
	calls int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetObservations sets the observations that will be returned by Detect.
func (m *MockDetector) SetObservations(hands []Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns a copy of the pre-configured observations or error.
func (m *MockDetector) Detect(mask *gocv.Mat) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.hands == nil {
		return nil, nil
	}

	hands := make([]Observation, len(m.hands))
	copy(hands, m.hands)
	return hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// OpenHand returns a preset observation of an open hand (five fingers) at
// the given position.
func OpenHand(x, y int) Observation {
	return Observation{
		FingerCount: 5,
		Centroid:    image.Point{X: x, Y: y},
		Confidence:  0.42,
		Area:        60000,
	}
}

// Fist returns a preset observation of a closed hand at the given position.
// A fist has no finger gaps, so the thumb rule reports one finger.
func Fist(x, y int) Observation {
	return Observation{
		FingerCount: 1,
		Centroid:    image.Point{X: x, Y: y},
		Confidence:  0.14,
		Area:        20000,
	}
}
