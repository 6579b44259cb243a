package tracking

import (
	"errors"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/fingertrack/internal/capture"
	"github.com/ayusman/fingertrack/internal/config"
	"github.com/ayusman/fingertrack/internal/detector"
	"github.com/ayusman/fingertrack/internal/fixtures"
)

// newMockCamera returns a looping mock camera over the given frames and
// closes them when the test ends.
func newMockCamera(t *testing.T, frames ...gocv.Mat) *capture.MockCamera {
	t.Helper()

	ptrs := make([]*gocv.Mat, len(frames))
	for i := range frames {
		ptrs[i] = &frames[i]
	}
	t.Cleanup(func() {
		for _, f := range ptrs {
			f.Close()
		}
	})

	return capture.NewMockCamera(ptrs, true)
}

// fixedCamera returns a factory that always hands out cam and counts calls.
func fixedCamera(cam capture.Camera, calls *atomic.Int32) CameraFactory {
	return func(index int) capture.Camera {
		if calls != nil {
			calls.Add(1)
		}
		return cam
	}
}

// newTestTracker builds a tracker over cam and d and stops it when the test
// ends.
func newTestTracker(t *testing.T, cam capture.Camera, d detector.Detector) *Tracker {
	t.Helper()

	tr := New(Options{
		ConfigPath: filepath.Join(t.TempDir(), config.FileName),
		NewCamera:  fixedCamera(cam, nil),
		Detector:   d,
	})
	t.Cleanup(func() {
		tr.Close()
	})
	return tr
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Options{NewCamera: fixedCamera(capture.NewMockCamera(nil, false), nil)})
	defer tr.Close()

	if got := tr.Params(); got != config.Default() {
		t.Errorf("Params() = %+v, want defaults", got)
	}

	snap := tr.State()
	if snap.Enabled || snap.Status != StatusStopped {
		t.Errorf("new tracker state = %+v, want stopped", snap)
	}
	if snap.Left != (HandState{}) || snap.Right != (HandState{}) {
		t.Errorf("new tracker hands = %+v / %+v, want reset", snap.Left, snap.Right)
	}
}

func TestTracker_StartCameraUnavailable(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	cam.SetOpenError(errors.New("no such device"))

	tr := newTestTracker(t, cam, detector.NewMockDetector())

	err := tr.Start()
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("Start() error = %v, want ErrCameraUnavailable", err)
	}

	snap := tr.State()
	if snap.Enabled || snap.Status != StatusStopped {
		t.Errorf("state after failed start = %+v, want stopped", snap)
	}

	// A later Start succeeds once the device is back
	cam.SetOpenError(nil)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() after recovery error = %v", err)
	}
	if !tr.Running() {
		t.Error("tracker should be running after successful start")
	}
}

func TestTracker_StartStop(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))

	mock := detector.NewMockDetector()
	mock.SetObservations([]detector.Observation{detector.OpenHand(100, 240)})

	var calls atomic.Int32
	tr := New(Options{NewCamera: fixedCamera(cam, &calls), Detector: mock})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	t.Run("start is idempotent", func(t *testing.T) {
		if err := tr.Start(); err != nil {
			t.Errorf("second Start() error = %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("camera factory called %d times, want 1", calls.Load())
		}
	})

	t.Run("publishes detected hands", func(t *testing.T) {
		ok := waitFor(time.Second, func() bool { return tr.State().Left.Detected })
		if !ok {
			t.Fatal("left hand never detected")
		}

		snap := tr.State()
		if snap.Status != StatusRunning || !snap.Enabled {
			t.Errorf("running state = %+v", snap)
		}
		if snap.Left.FingerCount != 5 {
			t.Errorf("Left.FingerCount = %d, want 5", snap.Left.FingerCount)
		}
		if snap.Left.Position != (Position{X: 100, Y: 240}) {
			t.Errorf("Left.Position = %+v, want (100, 240)", snap.Left.Position)
		}
		if snap.Right.Detected {
			t.Error("right hand should not be detected")
		}
	})

	t.Run("stop resets state and releases camera", func(t *testing.T) {
		tr.Stop()

		snap := tr.State()
		if snap.Enabled || snap.Status != StatusStopped {
			t.Errorf("state after stop = %+v", snap)
		}
		if snap.Left.Detected || snap.Right.Detected {
			t.Error("hands should be reset after stop")
		}
		if cam.IsOpen() {
			t.Error("camera should be closed after stop")
		}
	})
}

func TestTracker_StopIsSafe(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))
	tr := newTestTracker(t, cam, detector.NewMockDetector())

	start := time.Now()
	tr.Stop()
	tr.Stop()
	if elapsed := time.Since(start); elapsed > StopTimeout {
		t.Errorf("Stop without Start took %v", elapsed)
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	start = time.Now()
	tr.Stop()
	tr.Stop()
	if elapsed := time.Since(start); elapsed > StopTimeout+500*time.Millisecond {
		t.Errorf("double Stop took %v, want at most %v", elapsed, StopTimeout)
	}
}

// stuckCamera blocks its first read until released while holding its lock,
// the way a hung device read holds cameraImpl's mutex.
type stuckCamera struct {
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newStuckCamera() *stuckCamera {
	return &stuckCamera{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (c *stuckCamera) Open() error { return nil }

func (c *stuckCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.closed)
	return nil
}

func (c *stuckCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return nil, capture.ErrReadFailed
}

func (c *stuckCamera) SetFPS(fps int) {}
func (c *stuckCamera) FPS() int       { return capture.DefaultFPS }
func (c *stuckCamera) IsOpen() bool   { return true }

func TestTracker_StopBoundedByStuckRead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stop timeout test")
	}

	cam := newStuckCamera()
	tr := newTestTracker(t, cam, detector.NewMockDetector())

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-cam.entered:
	case <-time.After(time.Second):
		t.Fatal("loop never read from the camera")
	}

	start := time.Now()
	tr.Stop()
	if elapsed := time.Since(start); elapsed > StopTimeout+500*time.Millisecond {
		t.Errorf("Stop took %v with a stuck read, want at most %v", elapsed, StopTimeout)
	}

	if tr.Running() {
		t.Error("tracker should report stopped after Stop")
	}

	select {
	case <-cam.closed:
		t.Fatal("camera closed while the read was still blocked")
	default:
	}

	close(cam.release)

	select {
	case <-cam.closed:
	case <-time.After(2 * time.Second):
		t.Error("camera was not closed after the loop exited")
	}
}

func TestTracker_ReadFailuresDoNotStopLoop(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))
	cam.SetReadError(errors.New("device busy"))

	mock := detector.NewMockDetector()
	mock.SetObservations([]detector.Observation{detector.Fist(500, 240)})

	tr := newTestTracker(t, cam, mock)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(time.Second, func() bool { return cam.Reads() >= 3 }) {
		t.Fatalf("loop stopped retrying after read errors, reads = %d", cam.Reads())
	}
	if mock.Calls() != 0 {
		t.Errorf("detector called %d times without frames", mock.Calls())
	}
	if !tr.Running() {
		t.Error("tracker should keep running through read errors")
	}

	cam.SetReadError(nil)
	if !waitFor(time.Second, func() bool { return tr.State().Right.Detected }) {
		t.Error("loop did not recover once reads succeeded")
	}
}

func TestTracker_DetectorErrorResetsHands(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))

	mock := detector.NewMockDetector()
	mock.SetObservations([]detector.Observation{detector.OpenHand(100, 240)})

	tr := newTestTracker(t, cam, mock)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(time.Second, func() bool { return tr.State().Left.Detected }) {
		t.Fatal("left hand never detected")
	}

	mock.SetError(errors.New("analysis failed"))
	calls := mock.Calls()

	if !waitFor(time.Second, func() bool { return !tr.State().Left.Detected }) {
		t.Fatal("hands should reset after detector errors")
	}
	if !waitFor(time.Second, func() bool { return mock.Calls() > calls+2 }) {
		t.Error("loop should keep calling the detector after errors")
	}
	if !tr.Running() {
		t.Error("tracker should keep running through detector errors")
	}
}

// frameDetector reports two hands whose fields all derive from a per-call
// counter, so a snapshot mixing two frames is detectable.
type frameDetector struct {
	n atomic.Int64
}

func (d *frameDetector) Detect(mask *gocv.Mat) ([]detector.Observation, error) {
	n := int(d.n.Add(1))
	fingers := n%5 + 1
	return []detector.Observation{
		{FingerCount: fingers, Centroid: image.Pt(fingers*10, n%400), Confidence: float64(fingers) / 10},
		{FingerCount: fingers, Centroid: image.Pt(600-fingers, n%400), Confidence: float64(fingers) / 10},
	}, nil
}

func (d *frameDetector) Close() error { return nil }

func TestTracker_StateIsConsistent(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))
	d := &frameDetector{}

	tr := newTestTracker(t, cam, d)
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	var torn atomic.Int32
	stop := make(chan struct{})

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				s := tr.State()
				if !s.Left.Detected {
					continue
				}
				l, r := s.Left, s.Right
				if !r.Detected ||
					l.FingerCount != r.FingerCount ||
					l.Position.X != l.FingerCount*10 ||
					r.Position.X != 600-r.FingerCount ||
					l.Position.Y != r.Position.Y ||
					l.Confidence != float64(l.FingerCount)/10 {
					torn.Add(1)
				}
			}
		}()
	}

	waitFor(time.Second, func() bool { return d.n.Load() >= 20 })
	close(stop)
	wg.Wait()

	if d.n.Load() < 20 {
		t.Errorf("loop processed only %d frames", d.n.Load())
	}
	if n := torn.Load(); n > 0 {
		t.Errorf("observed %d torn snapshots", n)
	}
}

func TestTracker_SetParams(t *testing.T) {
	cam := capture.NewMockCamera(nil, false)
	path := filepath.Join(t.TempDir(), config.FileName)
	contour := detector.NewContourDetector(detector.DefaultConfig())

	tr := New(Options{ConfigPath: path, NewCamera: fixedCamera(cam, nil), Detector: contour})
	defer tr.Close()

	t.Run("sensitivity is applied and saved", func(t *testing.T) {
		if err := tr.SetSensitivity(0.4); err != nil {
			t.Fatalf("SetSensitivity() error = %v", err)
		}
		if got := tr.Params().Sensitivity; got != 0.4 {
			t.Errorf("Params().Sensitivity = %f, want 0.4", got)
		}
		if got := contour.Sensitivity(); got != 0.4 {
			t.Errorf("detector sensitivity = %f, want 0.4", got)
		}

		saved, err := config.Load(path)
		if err != nil {
			t.Fatalf("config.Load() error = %v", err)
		}
		if saved.Sensitivity != 0.4 {
			t.Errorf("saved sensitivity = %f, want 0.4", saved.Sensitivity)
		}
	})

	t.Run("invalid sensitivity is rejected", func(t *testing.T) {
		if err := tr.SetSensitivity(1.5); !errors.Is(err, config.ErrInvalidParams) {
			t.Errorf("SetSensitivity(1.5) error = %v, want ErrInvalidParams", err)
		}
		if got := tr.Params().Sensitivity; got != 0.4 {
			t.Errorf("sensitivity changed to %f by invalid value", got)
		}
	})

	t.Run("inverted color range is rejected", func(t *testing.T) {
		err := tr.SetColorRange([3]uint8{50, 0, 0}, [3]uint8{40, 255, 255})
		if !errors.Is(err, config.ErrInvalidParams) {
			t.Errorf("SetColorRange() error = %v, want ErrInvalidParams", err)
		}
	})

	t.Run("color range is applied to the segmenter", func(t *testing.T) {
		lower, upper := [3]uint8{5, 30, 60}, [3]uint8{25, 200, 250}
		if err := tr.SetColorRange(lower, upper); err != nil {
			t.Fatalf("SetColorRange() error = %v", err)
		}

		gotLower, gotUpper := tr.segmenter.Range()
		if gotLower != lower || gotUpper != upper {
			t.Errorf("segmenter range = %v-%v, want %v-%v", gotLower, gotUpper, lower, upper)
		}
	})

	t.Run("camera index", func(t *testing.T) {
		if err := tr.SetCameraIndex(-1); !errors.Is(err, config.ErrInvalidParams) {
			t.Errorf("SetCameraIndex(-1) error = %v, want ErrInvalidParams", err)
		}
		if err := tr.SetCameraIndex(2); err != nil {
			t.Fatalf("SetCameraIndex(2) error = %v", err)
		}
		if got := tr.Params().CameraIndex; got != 2 {
			t.Errorf("CameraIndex = %d, want 2", got)
		}
	})
}

func TestTracker_CameraIndexUsedOnStart(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))

	var gotIndex atomic.Int32
	gotIndex.Store(-1)
	tr := New(Options{
		NewCamera: func(index int) capture.Camera {
			gotIndex.Store(int32(index))
			return cam
		},
		Detector: detector.NewMockDetector(),
	})
	defer tr.Close()

	if err := tr.SetCameraIndex(3); err != nil {
		t.Fatalf("SetCameraIndex() error = %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if gotIndex.Load() != 3 {
		t.Errorf("camera opened with index %d, want 3", gotIndex.Load())
	}
}

func TestTracker_SaveConfigWithoutPath(t *testing.T) {
	tr := New(Options{NewCamera: fixedCamera(capture.NewMockCamera(nil, false), nil)})
	defer tr.Close()

	if err := tr.SaveConfig(); err != nil {
		t.Errorf("SaveConfig() without a path error = %v", err)
	}
}

func TestTracker_Preview(t *testing.T) {
	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))

	mock := detector.NewMockDetector()
	mock.SetObservations([]detector.Observation{detector.OpenHand(100, 240)})

	tr := newTestTracker(t, cam, mock)

	if _, err := tr.Preview(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Preview() before start error = %v, want ErrNoFrame", err)
	}

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(time.Second, func() bool { return tr.State().Left.Detected }) {
		t.Fatal("left hand never detected")
	}

	jpeg, err := tr.Preview()
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		t.Error("Preview() should return a JPEG image")
	}
}

func TestTracker_Pipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test")
	}

	// The hand sits on the right of the raw frame and on the left once mirrored
	frame := fixtures.HandFrame(fixtures.Width, fixtures.Height, image.Pt(480, 240))
	cam := newMockCamera(t, frame)

	tr := New(Options{NewCamera: fixedCamera(cam, nil)})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(2*time.Second, func() bool { return tr.State().Left.Detected }) {
		t.Fatalf("hand never detected, state = %+v", tr.State())
	}

	snap := tr.State()
	if snap.Right.Detected {
		t.Errorf("right hand should not be detected, got %+v", snap.Right)
	}
	if snap.Left.FingerCount != fixtures.HandFingers {
		t.Errorf("Left.FingerCount = %d, want %d", snap.Left.FingerCount, fixtures.HandFingers)
	}
	if snap.Left.Position.X >= fixtures.Width/2 {
		t.Errorf("Left.Position.X = %d, want left half", snap.Left.Position.X)
	}
	if snap.Left.Confidence <= 0 || snap.Left.Confidence > 1 {
		t.Errorf("Left.Confidence = %f, want within (0, 1]", snap.Left.Confidence)
	}
}

func TestTracker_PipelineEmptyScene(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pipeline test")
	}

	cam := newMockCamera(t, fixtures.NewFrame(fixtures.Width, fixtures.Height))

	tr := New(Options{NewCamera: fixedCamera(cam, nil)})
	defer tr.Close()

	if err := tr.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !waitFor(2*time.Second, func() bool { return cam.Reads() >= 5 }) {
		t.Fatal("loop did not read frames")
	}

	snap := tr.State()
	for _, h := range []HandState{snap.Left, snap.Right} {
		if h != (HandState{}) {
			t.Errorf("hand state = %+v, want reset for an empty scene", h)
		}
	}
}
