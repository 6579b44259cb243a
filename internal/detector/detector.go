// Package detector finds hands in segmentation masks and counts their raised
// fingers from contour geometry.
package detector

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// Detection constants. The area bounds are fixed and not user-tunable.
const (
	// MinArea is the smallest contour area, in pixels², considered a hand.
	MinArea = 5000.0
	// MaxArea is the largest contour area, in pixels², considered a hand.
	MaxArea = 100000.0
	// MaxFingers is the upper clamp for the finger count.
	MaxFingers = 5
	// MinHullPoints is the minimum number of hull and contour points needed
	// before convexity defects are computed.
	MinHullPoints = 4
)

// ErrEmptyMask is returned when Detect is given a nil or empty mask.
var ErrEmptyMask = errors.New("mask is empty")

// Observation is one hand candidate found in a single frame.
type Observation struct {
	FingerCount int         `json:"finger_count"`
	Centroid    image.Point `json:"centroid"`
	Confidence  float64     `json:"confidence"`
	Area        float64     `json:"-"`
}

// Detector defines the interface for hand detection implementations.
type Detector interface {
	// Detect analyzes a binary hand mask and returns one observation per
	// hand candidate, in contour order. Returns an empty slice if no hands
	// are found.
	Detect(mask *gocv.Mat) ([]Observation, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for hand detection.
type Config struct {
	// MinArea and MaxArea bound the accepted contour area.
	MinArea float64
	MaxArea float64

	// Sensitivity scales the reported confidence (0.1-1.0). It does not
	// change which contours are accepted.
	Sensitivity float64
}

// DefaultConfig returns a Config with the fixed area bounds and the default
// sensitivity.
func DefaultConfig() Config {
	return Config{
		MinArea:     MinArea,
		MaxArea:     MaxArea,
		Sensitivity: 0.7,
	}
}
