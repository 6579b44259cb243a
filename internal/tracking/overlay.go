package tracking

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	leftColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	rightColor = color.RGBA{R: 255, G: 128, B: 0, A: 0}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Label returns the dashboard caption for a hand slot, e.g. "Left: 3 fingers".
func Label(name string, h HandState) string {
	if !h.Detected {
		return fmt.Sprintf("%s: -", name)
	}
	if h.FingerCount == 1 {
		return fmt.Sprintf("%s: 1 finger", name)
	}
	return fmt.Sprintf("%s: %d fingers", name, h.FingerCount)
}

// Annotate draws the snapshot onto img: a filled circle on each detected
// hand's centroid, the per-hand finger counts and the frame rate.
func Annotate(img *gocv.Mat, snap Snapshot) {
	drawHand(img, snap.Left, leftColor)
	drawHand(img, snap.Right, rightColor)

	gocv.PutText(img, Label("Left", snap.Left), image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, leftColor, 2)
	gocv.PutText(img, Label("Right", snap.Right), image.Pt(10, 60), gocv.FontHersheySimplex, 0.8, rightColor, 2)
	gocv.PutText(img, fmt.Sprintf("FPS: %d", snap.FPS), image.Pt(10, 90), gocv.FontHersheySimplex, 0.8, textColor, 2)
}

func drawHand(img *gocv.Mat, h HandState, c color.RGBA) {
	if !h.Detected {
		return
	}
	center := image.Pt(h.Position.X, h.Position.Y)
	gocv.Circle(img, center, 10, c, -1)
	gocv.PutText(img, fmt.Sprintf("%d", h.FingerCount), center.Add(image.Pt(14, 6)), gocv.FontHersheySimplex, 0.7, c, 2)
}
