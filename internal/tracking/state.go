// Package tracking runs the capture loop that turns camera frames into the
// per-hand finger state read by the dashboard, the tray and the HTTP API.
package tracking

import (
	"time"

	"github.com/ayusman/fingertrack/internal/detector"
)

// Status is the lifecycle state of a Tracker.
type Status string

// Tracker lifecycle states.
const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Position is a pixel position in the mirrored frame.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// HandState is the latest result for one hand slot. When Detected is false
// every other field is zero.
type HandState struct {
	Detected    bool     `json:"detected"`
	FingerCount int      `json:"finger_count"`
	Position    Position `json:"position"`
	Confidence  float64  `json:"confidence"`
}

// Snapshot is a consistent view of both hands and the loop status.
type Snapshot struct {
	Left        HandState `json:"left"`
	Right       HandState `json:"right"`
	Enabled     bool      `json:"enabled"`
	FPS         int       `json:"fps"`
	Status      Status    `json:"status"`
	Calibrating bool      `json:"calibrating"`
}

// Hand returns the slot named "left" or "right", and false for any other name.
func (s Snapshot) Hand(name string) (HandState, bool) {
	switch name {
	case "left":
		return s.Left, true
	case "right":
		return s.Right, true
	}
	return HandState{}, false
}

func handFrom(obs detector.Observation) HandState {
	return HandState{
		Detected:    true,
		FingerCount: obs.FingerCount,
		Position:    Position{X: obs.Centroid.X, Y: obs.Centroid.Y},
		Confidence:  obs.Confidence,
	}
}

// Assign maps the observations of one frame of the given width onto the left
// and right slots.
//
// A single observation goes to the left slot when its centroid lies in the
// left half of the frame and to the right slot otherwise. With two or more,
// only the first two are used and the one with the smaller x is left; on a
// tie the second observation is left. Slots without an observation are
// returned as the zero HandState.
func Assign(obs []detector.Observation, width int) (left, right HandState) {
	switch {
	case len(obs) == 0:
		return HandState{}, HandState{}

	case len(obs) == 1:
		if obs[0].Centroid.X < width/2 {
			return handFrom(obs[0]), HandState{}
		}
		return HandState{}, handFrom(obs[0])

	default:
		a, b := obs[0], obs[1]
		if a.Centroid.X < b.Centroid.X {
			return handFrom(a), handFrom(b)
		}
		return handFrom(b), handFrom(a)
	}
}

// fpsCounter counts processed frames per one-second window.
type fpsCounter struct {
	frames      int
	windowStart time.Time
	fps         int
}

func newFPSCounter(now time.Time) *fpsCounter {
	return &fpsCounter{windowStart: now}
}

// tick records one processed frame and returns the rate published for the
// last completed window.
func (c *fpsCounter) tick(now time.Time) int {
	c.frames++
	if now.Sub(c.windowStart) >= time.Second {
		c.fps = c.frames
		c.frames = 0
		c.windowStart = now
	}
	return c.fps
}
