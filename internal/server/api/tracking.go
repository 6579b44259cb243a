package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/fingertrack/internal/config"
	"github.com/ayusman/fingertrack/internal/tracking"
)

// Calibration duration limits for POST /api/tracking/calibrate.
const (
	DefaultCalibrationSeconds = 5
	MaxCalibrationSeconds     = 60
)

// Tracker is the part of tracking.Tracker the handlers use.
type Tracker interface {
	State() tracking.Snapshot
	Start() error
	Stop()
	Calibrate(ctx context.Context, duration time.Duration) (config.Params, error)
	Params() config.Params
	SetParams(params config.Params) error
}

// TrackingHandler handles HTTP requests for the tracking controller.
type TrackingHandler struct {
	tracker Tracker
}

// NewTrackingHandler creates a new TrackingHandler for the given tracker.
func NewTrackingHandler(t Tracker) *TrackingHandler {
	return &TrackingHandler{tracker: t}
}

// ServeHTTP routes /api/tracking/{action} requests.
func (h *TrackingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/tracking")
	action = strings.Trim(action, "/")

	switch action {
	case "state":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.tracker.State())

	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.start(w, r)

	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.tracker.Stop()
		writeJSON(w, http.StatusOK, h.tracker.State())

	case "calibrate":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.calibrate(w, r)

	case "settings":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, h.tracker.Params())
		case http.MethodPut:
			h.updateSettings(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	default:
		http.NotFound(w, r)
	}
}

// Request types

type calibrateRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

type settingsRequest struct {
	Sensitivity *float64 `json:"sensitivity"`
	CameraIndex *int     `json:"camera_index"`
	LowerSkin   []int    `json:"lower_skin"`
	UpperSkin   []int    `json:"upper_skin"`
}

// start handles POST /api/tracking/start.
func (h *TrackingHandler) start(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Start(); err != nil {
		if errors.Is(err, tracking.ErrCameraUnavailable) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start tracking")
		return
	}

	writeJSON(w, http.StatusOK, h.tracker.State())
}

// calibrate handles POST /api/tracking/calibrate. It blocks for the whole
// calibration run. An empty body uses the default duration.
func (h *TrackingHandler) calibrate(w http.ResponseWriter, r *http.Request) {
	req := calibrateRequest{DurationSeconds: DefaultCalibrationSeconds}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.DurationSeconds <= 0 || req.DurationSeconds > MaxCalibrationSeconds {
		writeError(w, http.StatusBadRequest, "duration_seconds must be in (0, 60]")
		return
	}

	duration := time.Duration(req.DurationSeconds * float64(time.Second))
	params, err := h.tracker.Calibrate(r.Context(), duration)
	if err != nil {
		switch {
		case errors.Is(err, tracking.ErrCalibrationInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, tracking.ErrNoSamples):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, tracking.ErrCameraUnavailable):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "Calibration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, params)
}

// updateSettings handles PUT /api/tracking/settings. Omitted fields keep
// their current values.
func (h *TrackingHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := h.tracker.Params()
	if req.Sensitivity != nil {
		params.Sensitivity = *req.Sensitivity
	}
	if req.CameraIndex != nil {
		params.CameraIndex = *req.CameraIndex
	}
	for _, bound := range []struct {
		values []int
		dst    *[3]uint8
	}{
		{req.LowerSkin, &params.LowerSkin},
		{req.UpperSkin, &params.UpperSkin},
	} {
		if bound.values == nil {
			continue
		}
		parsed, err := config.ParseBound(bound.values)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		*bound.dst = parsed
	}

	if err := h.tracker.SetParams(params); err != nil {
		if errors.Is(err, config.ErrInvalidParams) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}

	writeJSON(w, http.StatusOK, h.tracker.Params())
}
