// Package tray provides a system tray menu for controlling finger tracking.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/fingertrack/internal/tracking"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle    func(enabled bool) error
	onCalibrate func()
	onDashboard func()
	onQuit      func()
	enabled     bool
	calibrating bool
	mu          sync.RWMutex

	// Menu items stored for later updates
	menuToggle    *systray.MenuItem
	menuCalibrate *systray.MenuItem
	menuLeft      *systray.MenuItem
	menuRight     *systray.MenuItem
}

// New creates a new Tray instance with tracking shown as disabled.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback called when tracking is switched on or off.
// If it returns an error the menu keeps the previous state.
func (t *Tray) OnToggle(fn func(enabled bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnCalibrate sets the callback called when the calibrate item is clicked.
// It runs on its own goroutine.
func (t *Tray) OnCalibrate(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCalibrate = fn
}

// OnDashboard sets the callback called when the dashboard item is clicked.
func (t *Tray) OnDashboard(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDashboard = fn
}

// OnQuit sets the callback called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Fingertrack")
	systray.SetTooltip("Fingertrack hand tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Start or stop tracking")
	t.menuCalibrate = systray.AddMenuItem(calibrateTitle(false), "Hold a hand over the camera center")
	systray.AddSeparator()

	t.menuLeft = systray.AddMenuItem(tracking.Label("Left", tracking.HandState{}), "Left hand")
	t.menuLeft.Disable()
	t.menuRight = systray.AddMenuItem(tracking.Label("Right", tracking.HandState{}), "Right hand")
	t.menuRight.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuDashboard := systray.AddMenuItem("Open Dashboard...", "Open the dashboard in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Fingertrack")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuCalibrate.ClickedCh:
				t.handleCalibrate()
			case <-menuDashboard.ClickedCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Tracking"
	}
	return "○ Stopped"
}

func calibrateTitle(running bool) string {
	if running {
		return "Calibrating..."
	}
	return "Calibrate (5s)"
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.RLock()
	enabled := !t.enabled
	callback := t.onToggle
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		if err := callback(enabled); err != nil {
			return
		}
	}

	t.SetEnabled(enabled)
}

// handleCalibrate runs the calibrate callback unless one is already running.
func (t *Tray) handleCalibrate() {
	t.mu.Lock()
	callback := t.onCalibrate
	if callback == nil || t.calibrating {
		t.mu.Unlock()
		return
	}
	t.calibrating = true
	if t.menuCalibrate != nil {
		t.menuCalibrate.SetTitle(calibrateTitle(true))
		t.menuCalibrate.Disable()
	}
	t.mu.Unlock()

	go func() {
		callback()

		t.mu.Lock()
		t.calibrating = false
		if t.menuCalibrate != nil {
			t.menuCalibrate.SetTitle(calibrateTitle(false))
			t.menuCalibrate.Enable()
		}
		t.mu.Unlock()
	}()
}

// handleDashboard handles the dashboard menu item click.
func (t *Tray) handleDashboard() {
	t.mu.RLock()
	callback := t.onDashboard
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetEnabled updates the toggle item to show whether tracking is running.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// Update shows the snapshot's finger counts, running state and any
// calibration in progress in the menu.
func (t *Tray) Update(snap tracking.Snapshot) {
	if snap.Enabled != t.IsEnabled() {
		t.SetEnabled(snap.Enabled)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuLeft != nil {
		t.menuLeft.SetTitle(tracking.Label("Left", snap.Left))
	}
	if t.menuRight != nil {
		t.menuRight.SetTitle(tracking.Label("Right", snap.Right))
	}
	// Calibrations started from the dashboard show up here too
	if t.menuCalibrate != nil && !t.calibrating {
		t.menuCalibrate.SetTitle(calibrateTitle(snap.Calibrating))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// IsCalibrating reports whether a calibration started from the menu is
// still running.
func (t *Tray) IsCalibrating() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calibrating
}
