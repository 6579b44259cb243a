// Package fixtures draws synthetic hand frames and masks for tests.
package fixtures

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Frame dimensions used by the fixtures unless stated otherwise.
const (
	Width  = 640
	Height = 480
)

// Skin is a BGR color inside the default HSV skin range
// (roughly H=12, S=116, V=220).
var Skin = color.RGBA{R: 220, G: 160, B: 120, A: 0}

// White is used for drawing directly into masks.
var White = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// handOutline is a four-finger hand, 140 wide and 200 tall, with its
// bounding box at the origin. Fingertips are pointed and at different
// heights so each one is a convex hull vertex, and the three 20px gaps
// between fingers are 70-90px deep.
var handOutline = []image.Point{
	{0, 200}, {0, 50}, {10, 30}, {20, 50},
	{20, 100}, {40, 100}, {40, 30}, {50, 10}, {60, 30},
	{60, 100}, {80, 100}, {80, 20}, {90, 0}, {100, 20},
	{100, 100}, {120, 100}, {120, 35}, {130, 15}, {140, 35},
	{140, 200},
}

// HandFingers is the number of fingers the contour detector reports for the
// hand outline: three gaps plus the thumb rule.
const HandFingers = 4

// HandSize is the bounding box size of the hand outline.
var HandSize = image.Pt(140, 200)

// HandAt returns the hand outline with its bounding box centered on center.
func HandAt(center image.Point) []image.Point {
	offset := center.Sub(HandSize.Div(2))
	pts := make([]image.Point, len(handOutline))
	for i, p := range handOutline {
		pts[i] = p.Add(offset)
	}
	return pts
}

// NewMask returns an empty single-channel mask of the given size.
func NewMask(width, height int) gocv.Mat {
	return gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
}

// NewFrame returns a black BGR frame of the given size.
func NewFrame(width, height int) gocv.Mat {
	return gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
}

// DrawHand fills a hand outline centered on center.
func DrawHand(img *gocv.Mat, center image.Point, c color.RGBA) {
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{HandAt(center)})
	defer pv.Close()
	gocv.FillPoly(img, pv, c)
}

// DrawBlob fills an axis-aligned rectangle.
func DrawBlob(img *gocv.Mat, r image.Rectangle, c color.RGBA) {
	gocv.Rectangle(img, r, c, -1)
}

// HandMask returns a mask with a hand drawn at each center.
func HandMask(width, height int, centers ...image.Point) gocv.Mat {
	mask := NewMask(width, height)
	for _, c := range centers {
		DrawHand(&mask, c, White)
	}
	return mask
}

// HandFrame returns a BGR frame with a skin-colored hand drawn at each
// center. Centers are in the frame's own (unmirrored) coordinates.
func HandFrame(width, height int, centers ...image.Point) gocv.Mat {
	frame := NewFrame(width, height)
	for _, c := range centers {
		DrawHand(&frame, c, Skin)
	}
	return frame
}

// SolidFrame returns a BGR frame filled with a single color.
func SolidFrame(width, height int, c color.RGBA) gocv.Mat {
	frame := NewFrame(width, height)
	frame.SetTo(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0))
	return frame
}
