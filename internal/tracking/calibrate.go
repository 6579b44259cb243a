package tracking

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/fingertrack/internal/config"
	"github.com/ayusman/fingertrack/internal/store"
)

// Calibration constants.
const (
	// RegionHalfSize is half the side of the square sampled at the frame center.
	RegionHalfSize = 50
	// SampleInterval is the pause between sampled frames.
	SampleInterval = 100 * time.Millisecond
	// LowerPercentile and UpperPercentile select the new bounds per channel.
	LowerPercentile = 5
	UpperPercentile = 95
	// HueMargin widens the hue bounds on both sides.
	HueMargin = 5
)

var (
	// ErrNoSamples is returned when calibration could not read any pixels.
	ErrNoSamples = errors.New("calibration collected no samples")
	// ErrCalibrationInProgress is returned when a calibration is already running.
	ErrCalibrationInProgress = errors.New("calibration already in progress")
)

// histogram counts 8-bit values per HSV channel.
type histogram struct {
	bins [3][256]int
	n    int
}

// add counts interleaved 3-channel pixel data.
func (h *histogram) add(pixels []byte) {
	for i := 0; i+2 < len(pixels); i += 3 {
		h.bins[0][pixels[i]]++
		h.bins[1][pixels[i+1]]++
		h.bins[2][pixels[i+2]]++
		h.n++
	}
}

// kth returns the k-th smallest value (0-based) of channel ch.
func (h *histogram) kth(ch, k int) float64 {
	seen := 0
	for v, count := range h.bins[ch] {
		seen += count
		if seen > k {
			return float64(v)
		}
	}
	return 255
}

// percentile returns the p-th percentile of channel ch, interpolating
// linearly between the two closest ranks.
func (h *histogram) percentile(ch int, p float64) float64 {
	if h.n == 0 {
		return 0
	}

	rank := p / 100 * float64(h.n-1)
	lo := int(math.Floor(rank))
	frac := rank - float64(lo)

	v := h.kth(ch, lo)
	if frac == 0 {
		return v
	}
	return v + frac*(h.kth(ch, lo+1)-v)
}

// bounds derives the HSV skin range from the sampled pixels: the 5th and 95th
// percentile of every channel, with the hue widened by HueMargin and clamped
// to [0, MaxHue].
func (h *histogram) bounds() (lower, upper [3]uint8) {
	for ch := range 3 {
		lower[ch] = uint8(h.percentile(ch, LowerPercentile))
		upper[ch] = uint8(h.percentile(ch, UpperPercentile))
	}

	lower[0] = uint8(max(0, int(lower[0])-HueMargin))
	upper[0] = uint8(min(config.MaxHue, int(upper[0])+HueMargin))
	return lower, upper
}

// centerRegion returns the sampling square for a frame of the given size,
// clipped to the frame.
func centerRegion(width, height int) image.Rectangle {
	cx, cy := width/2, height/2
	r := image.Rect(cx-RegionHalfSize, cy-RegionHalfSize, cx+RegionHalfSize, cy+RegionHalfSize)
	return r.Intersect(image.Rect(0, 0, width, height))
}

// sampleCenter adds the HSV pixels of the frame's center square to hist.
func sampleCenter(frame *gocv.Mat, hist *histogram) error {
	if frame.Empty() || frame.Channels() != 3 {
		return fmt.Errorf("sample: unexpected frame with %d channels", frame.Channels())
	}

	r := centerRegion(frame.Cols(), frame.Rows())
	if r.Empty() {
		return errors.New("sample: frame too small")
	}

	roi := frame.Region(r)
	defer roi.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	hist.add(hsv.ToBytes())
	return nil
}

// Calibrate learns the skin color range from the center of the camera image.
//
// The user holds a hand over the center of the frame while Calibrate samples
// the center square once every SampleInterval for duration. The tracker is
// started first when it is not running, and it keeps running afterwards.
// The new bounds are applied to the running loop, saved, and recorded in the
// calibration history. Cancelling ctx ends sampling early and uses what was
// collected so far.
//
// ErrNoSamples is returned, with the parameters left unchanged, when no frame
// could be sampled.
func (t *Tracker) Calibrate(ctx context.Context, duration time.Duration) (config.Params, error) {
	if !t.calibrating.CompareAndSwap(false, true) {
		return t.Params(), ErrCalibrationInProgress
	}
	defer t.calibrating.Store(false)

	if err := t.Start(); err != nil {
		return t.Params(), err
	}

	camera := t.activeCamera()
	if camera == nil {
		return t.Params(), ErrCameraUnavailable
	}

	log.Printf("Calibrating for %v", duration)

	var hist histogram
	frames := 0
	started := time.Now()
	deadline := started.Add(duration)

sampling:
	for time.Now().Before(deadline) {
		frame, err := camera.ReadFrame()
		if err == nil {
			if err := sampleCenter(frame, &hist); err != nil {
				log.Printf("Error sampling frame: %v", err)
			} else {
				frames++
			}
			frame.Close()
		}

		select {
		case <-ctx.Done():
			break sampling
		case <-time.After(SampleInterval):
		}
	}

	if hist.n == 0 {
		log.Println("Calibration failed: no samples collected")
		return t.Params(), ErrNoSamples
	}

	lower, upper := hist.bounds()

	params := t.Params()
	params.LowerSkin = lower
	params.UpperSkin = upper
	if err := t.SetParams(params); err != nil {
		return t.Params(), fmt.Errorf("apply calibration: %w", err)
	}

	log.Printf("Calibration complete: %d frames, lower=%v upper=%v", frames, lower, upper)

	t.record(&store.Calibration{
		Frames:     frames,
		Samples:    hist.n,
		Lower:      lower,
		Upper:      upper,
		DurationMs: time.Since(started).Milliseconds(),
	})

	return params, nil
}

func (t *Tracker) record(c *store.Calibration) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Create(c); err != nil {
		log.Printf("Error recording calibration: %v", err)
		return
	}
	if _, err := t.recorder.Prune(HistoryLimit); err != nil {
		log.Printf("Error pruning calibration history: %v", err)
	}
}
