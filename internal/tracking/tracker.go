package tracking

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/fingertrack/internal/capture"
	"github.com/ayusman/fingertrack/internal/config"
	"github.com/ayusman/fingertrack/internal/detector"
	"github.com/ayusman/fingertrack/internal/segment"
	"github.com/ayusman/fingertrack/internal/store"
)

// Loop timing constants.
const (
	// StopTimeout bounds how long Stop waits for the loop to exit.
	StopTimeout = 2 * time.Second
	// ReadBackoff is the pause after a failed frame read.
	ReadBackoff = 100 * time.Millisecond
	// LoopInterval is the pause after every processed frame.
	LoopInterval = 10 * time.Millisecond
	// HistoryLimit is how many calibration records are kept.
	HistoryLimit = 50
)

var (
	// ErrCameraUnavailable is returned by Start when the camera cannot be opened.
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrNoFrame is returned by Preview before the loop has processed a frame.
	ErrNoFrame = errors.New("no frame available")
)

// CameraFactory builds the camera for a device index.
type CameraFactory func(index int) capture.Camera

// CalibrationRecorder stores completed calibration runs.
type CalibrationRecorder interface {
	Create(c *store.Calibration) error
	Prune(keep int) (int64, error)
}

// sensitivityAware is implemented by detectors whose confidence depends on
// the sensitivity parameter.
type sensitivityAware interface {
	SetSensitivity(sensitivity float64)
}

// Options configures a Tracker.
type Options struct {
	// Params are the initial parameters. The zero value means config.Default().
	Params config.Params
	// ConfigPath is where parameter changes are saved. Empty disables saving.
	ConfigPath string
	// NewCamera builds the camera on every Start. Defaults to capture.NewCamera.
	NewCamera CameraFactory
	// Detector analyzes masks. Defaults to a ContourDetector.
	Detector detector.Detector
	// Recorder receives calibration results. Optional.
	Recorder CalibrationRecorder
}

// Tracker owns the camera and the capture loop and publishes the latest
// per-hand state.
type Tracker struct {
	configPath string
	newCamera  CameraFactory
	recorder   CalibrationRecorder
	segmenter  *segment.Segmenter
	detector   detector.Detector

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	camera    capture.Camera
	stopCh    chan struct{}
	doneCh    chan struct{}

	paramsMu sync.RWMutex
	params   config.Params

	mu       sync.RWMutex
	snapshot Snapshot

	frameMu   sync.Mutex
	lastFrame gocv.Mat

	calibrating atomic.Bool
}

// New creates a stopped Tracker.
func New(opts Options) *Tracker {
	params := opts.Params
	if params == (config.Params{}) {
		params = config.Default()
	}

	if opts.NewCamera == nil {
		opts.NewCamera = capture.NewCamera
	}

	if opts.Detector == nil {
		cfg := detector.DefaultConfig()
		cfg.Sensitivity = params.Sensitivity
		opts.Detector = detector.NewContourDetector(cfg)
	} else if d, ok := opts.Detector.(sensitivityAware); ok {
		d.SetSensitivity(params.Sensitivity)
	}

	return &Tracker{
		configPath: opts.ConfigPath,
		newCamera:  opts.NewCamera,
		recorder:   opts.Recorder,
		segmenter:  segment.New(params.LowerSkin, params.UpperSkin),
		detector:   opts.Detector,
		params:     params,
		snapshot:   Snapshot{Status: StatusStopped},
		lastFrame:  gocv.NewMat(),
	}
}

// Start opens the configured camera and launches the capture loop.
// Calling Start while running is a no-op.
func (t *Tracker) Start() error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.stopCh != nil {
		return nil
	}

	t.setStatus(StatusStarting)

	index := t.Params().CameraIndex
	camera := t.newCamera(index)
	if err := camera.Open(); err != nil {
		t.setStatus(StatusStopped)
		return fmt.Errorf("%w: camera %d: %w", ErrCameraUnavailable, index, err)
	}

	t.camera = camera
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	t.mu.Lock()
	t.snapshot = Snapshot{Enabled: true, Status: StatusRunning}
	t.mu.Unlock()

	go t.run(camera, t.stopCh, t.doneCh)

	log.Printf("Tracking started on camera %d", index)
	return nil
}

// Stop signals the loop to exit, waits up to StopTimeout for it and releases
// the camera. It is safe to call when the tracker was never started and to
// call repeatedly.
//
// A loop stuck in a camera read may hold the camera's lock, so when the wait
// times out the camera is closed once the loop finally exits and Stop returns
// without it.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	if t.stopCh == nil {
		return
	}

	t.setStatus(StatusStopping)
	close(t.stopCh)

	camera, done := t.camera, t.doneCh

	timer := time.NewTimer(StopTimeout)
	select {
	case <-done:
		closeCamera(camera)
	case <-timer.C:
		log.Printf("Tracking loop did not exit within %v, camera will close when it does", StopTimeout)
		go func() {
			<-done
			closeCamera(camera)
		}()
	}
	timer.Stop()

	t.camera = nil
	t.stopCh = nil
	t.doneCh = nil

	t.mu.Lock()
	t.snapshot = Snapshot{Status: StatusStopped}
	t.mu.Unlock()

	log.Println("Tracking stopped")
}

// Close stops the tracker and releases its native resources. The tracker
// cannot be used afterwards.
func (t *Tracker) Close() error {
	t.Stop()

	t.frameMu.Lock()
	t.lastFrame.Close()
	t.frameMu.Unlock()

	t.segmenter.Close()
	return t.detector.Close()
}

func closeCamera(camera capture.Camera) {
	if err := camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
}

// State returns the latest complete snapshot, flagged while a calibration
// runs. It never waits on frame processing.
func (t *Tracker) State() Snapshot {
	t.mu.RLock()
	snap := t.snapshot
	t.mu.RUnlock()

	snap.Calibrating = t.calibrating.Load()
	return snap
}

// Running reports whether the capture loop is active.
func (t *Tracker) Running() bool {
	return t.State().Enabled
}

func (t *Tracker) setStatus(status Status) {
	t.mu.Lock()
	t.snapshot.Status = status
	t.mu.Unlock()
}

// activeCamera returns the camera owned by the running loop, or nil.
func (t *Tracker) activeCamera() capture.Camera {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	return t.camera
}

// run is the capture loop. It exits when stop is closed.
//
// Each iteration reads a frame, mirrors it, segments skin-colored regions,
// analyzes contours into observations, assigns them to hand slots and
// publishes the snapshot. Read failures back off for ReadBackoff; every other
// failure is logged and the loop carries on.
func (t *Tracker) run(camera capture.Camera, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	fps := newFPSCounter(time.Now())
	readFailing := false

	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := camera.ReadFrame()
		if err != nil {
			if !readFailing {
				log.Printf("Error reading frame: %v", err)
				readFailing = true
			}
			if !sleep(stop, ReadBackoff) {
				return
			}
			continue
		}
		if readFailing {
			log.Println("Frame reads recovered")
			readFailing = false
		}

		left, right, err := t.processFrame(frame)
		if err != nil {
			log.Printf("Error processing frame: %v", err)
		}

		n := fps.tick(time.Now())

		select {
		case <-stop:
			return
		default:
		}

		t.mu.Lock()
		t.snapshot.Left = left
		t.snapshot.Right = right
		t.snapshot.FPS = n
		t.mu.Unlock()

		if !sleep(stop, LoopInterval) {
			return
		}
	}
}

// processFrame runs one frame through the pipeline and closes it. On error
// both hands are reported as not detected.
func (t *Tracker) processFrame(frame *gocv.Mat) (left, right HandState, err error) {
	defer frame.Close()
	defer func() {
		if r := recover(); r != nil {
			left, right = HandState{}, HandState{}
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	capture.Mirror(frame)
	t.keepFrame(frame)

	mask, err := t.segmenter.Segment(frame)
	defer mask.Close()
	if err != nil {
		return HandState{}, HandState{}, fmt.Errorf("segment: %w", err)
	}

	obs, err := t.detector.Detect(&mask)
	if err != nil {
		return HandState{}, HandState{}, fmt.Errorf("detect: %w", err)
	}

	left, right = Assign(obs, frame.Cols())
	return left, right, nil
}

func (t *Tracker) keepFrame(frame *gocv.Mat) {
	t.frameMu.Lock()
	defer t.frameMu.Unlock()
	frame.CopyTo(&t.lastFrame)
}

// sleep waits for d and reports false if stop was closed first.
func sleep(stop <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// Params returns the current tracking parameters.
func (t *Tracker) Params() config.Params {
	t.paramsMu.RLock()
	defer t.paramsMu.RUnlock()
	return t.params
}

// SetSensitivity changes the confidence multiplier and saves the config.
func (t *Tracker) SetSensitivity(sensitivity float64) error {
	params := t.Params()
	params.Sensitivity = sensitivity
	return t.SetParams(params)
}

// SetColorRange replaces the HSV skin bounds and saves the config.
func (t *Tracker) SetColorRange(lower, upper [3]uint8) error {
	params := t.Params()
	params.LowerSkin = lower
	params.UpperSkin = upper
	return t.SetParams(params)
}

// SetCameraIndex selects the camera used by the next Start and saves the
// config.
func (t *Tracker) SetCameraIndex(index int) error {
	params := t.Params()
	params.CameraIndex = index
	return t.SetParams(params)
}

// SetParams validates and applies all parameters at once, then saves them.
// A save failure is logged and the new parameters stay in effect. A camera
// index change takes effect on the next Start.
func (t *Tracker) SetParams(params config.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	t.apply(params)
	t.persist()
	return nil
}

func (t *Tracker) apply(params config.Params) {
	t.paramsMu.Lock()
	t.params = params
	t.paramsMu.Unlock()

	if err := t.segmenter.SetRange(params.LowerSkin, params.UpperSkin); err != nil {
		log.Printf("Error applying color range: %v", err)
	}
	if d, ok := t.detector.(sensitivityAware); ok {
		d.SetSensitivity(params.Sensitivity)
	}
}

func (t *Tracker) persist() {
	if err := t.SaveConfig(); err != nil {
		log.Printf("Error saving config: %v", err)
	}
}

// SaveConfig writes the current parameters to the config file. It does
// nothing when the tracker has no config path.
func (t *Tracker) SaveConfig() error {
	if t.configPath == "" {
		return nil
	}
	return config.Save(t.configPath, t.Params())
}

// Preview returns the most recent mirrored frame as a JPEG, annotated with
// the detected hands and the frame rate.
func (t *Tracker) Preview() ([]byte, error) {
	t.frameMu.Lock()
	if t.lastFrame.Empty() {
		t.frameMu.Unlock()
		return nil, ErrNoFrame
	}
	img := t.lastFrame.Clone()
	t.frameMu.Unlock()
	defer img.Close()

	Annotate(&img, t.State())

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
