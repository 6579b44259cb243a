// Package config loads and saves the tunable finger tracking parameters.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Parameter bounds and defaults.
const (
	MinSensitivity     = 0.1
	MaxSensitivity     = 1.0
	DefaultSensitivity = 0.7
	DefaultCameraIndex = 0

	// MaxHue is the upper end of OpenCV's 8-bit hue channel.
	MaxHue = 180

	// FileName is the name of the config file inside the data directory.
	FileName = "finger_tracking.json"
)

var (
	// DefaultLowerSkin is the built-in lower HSV bound for skin tones.
	DefaultLowerSkin = [3]uint8{0, 20, 70}
	// DefaultUpperSkin is the built-in upper HSV bound for skin tones.
	DefaultUpperSkin = [3]uint8{20, 255, 255}
)

// ErrInvalidParams is returned when parameters fail validation.
var ErrInvalidParams = errors.New("invalid tracking parameters")

// Params holds the tunable detection configuration.
type Params struct {
	Sensitivity float64  `json:"sensitivity"`
	CameraIndex int      `json:"camera_index"`
	LowerSkin   [3]uint8 `json:"lower_skin"`
	UpperSkin   [3]uint8 `json:"upper_skin"`
}

// Default returns the built-in parameters used when no config file exists.
func Default() Params {
	return Params{
		Sensitivity: DefaultSensitivity,
		CameraIndex: DefaultCameraIndex,
		LowerSkin:   DefaultLowerSkin,
		UpperSkin:   DefaultUpperSkin,
	}
}

// Validate checks the sensitivity range, the camera index and that the
// lower color bound does not exceed the upper bound on any channel.
func (p Params) Validate() error {
	if p.Sensitivity < MinSensitivity || p.Sensitivity > MaxSensitivity {
		return fmt.Errorf("%w: sensitivity %.2f outside [%.1f, %.1f]",
			ErrInvalidParams, p.Sensitivity, MinSensitivity, MaxSensitivity)
	}
	if p.CameraIndex < 0 {
		return fmt.Errorf("%w: camera index %d is negative", ErrInvalidParams, p.CameraIndex)
	}
	return ValidateRange(p.LowerSkin, p.UpperSkin)
}

// ValidateRange checks lower <= upper componentwise and that both hue
// bounds stay within [0, MaxHue].
func ValidateRange(lower, upper [3]uint8) error {
	if lower[0] > MaxHue || upper[0] > MaxHue {
		return fmt.Errorf("%w: hue bounds [%d, %d] exceed %d",
			ErrInvalidParams, lower[0], upper[0], MaxHue)
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return fmt.Errorf("%w: channel %d lower bound %d exceeds upper bound %d",
				ErrInvalidParams, i, lower[i], upper[i])
		}
	}
	return nil
}

// ParseBound converts a decoded HSV triple into a color bound. Triples of
// any length other than three, or with components outside 0-255, are
// rejected with ErrInvalidParams.
func ParseBound(values []int) ([3]uint8, error) {
	var bound [3]uint8
	if len(values) != len(bound) {
		return bound, fmt.Errorf("%w: color bound has %d components, want %d",
			ErrInvalidParams, len(values), len(bound))
	}
	for i, v := range values {
		if v < 0 || v > 255 {
			return bound, fmt.Errorf("%w: color bound component %d is %d, outside [0, 255]",
				ErrInvalidParams, i, v)
		}
		bound[i] = uint8(v)
	}
	return bound, nil
}

// UnmarshalJSON decodes params over the current values. The color bounds
// must be complete triples; encoding/json would otherwise zero-fill short
// arrays and drop extra elements.
func (p *Params) UnmarshalJSON(data []byte) error {
	type plain Params
	aux := struct {
		*plain
		LowerSkin []int `json:"lower_skin"`
		UpperSkin []int `json:"upper_skin"`
	}{plain: (*plain)(p)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.LowerSkin != nil {
		lower, err := ParseBound(aux.LowerSkin)
		if err != nil {
			return fmt.Errorf("lower_skin: %w", err)
		}
		p.LowerSkin = lower
	}
	if aux.UpperSkin != nil {
		upper, err := ParseBound(aux.UpperSkin)
		if err != nil {
			return fmt.Errorf("upper_skin: %w", err)
		}
		p.UpperSkin = upper
	}
	return nil
}

// DefaultDir returns the directory the config file lives in,
// $HOME/.local/share/fingertrack.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "fingertrack"), nil
}

// DefaultPath returns the full path of the default config file.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads parameters from path.
//
// A missing file yields the defaults and no error. A file that cannot be read,
// parsed or validated yields the defaults together with a diagnostic error;
// callers are expected to log it and carry on. Fields absent from the file
// keep their default values.
func Load(path string) (Params, error) {
	params := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return params, nil
	}
	if err != nil {
		return Default(), fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &params); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := params.Validate(); err != nil {
		return Default(), fmt.Errorf("config %s: %w", path, err)
	}

	return params, nil
}

// Save writes params to path, creating the parent directory if needed.
// The file is written to a temporary sibling and renamed into place.
func Save(path string, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace config: %w", err)
	}

	return nil
}
