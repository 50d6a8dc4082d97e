package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/spectra.report/internal/calib"
	"github.com/banshee-data/spectra.report/internal/geom"
	"github.com/banshee-data/spectra.report/internal/linescan"
	"github.com/banshee-data/spectra.report/internal/units"
)

// DefaultSettingsPath is where the pipeline persists its settings snapshot.
const DefaultSettingsPath = "config/settings.json"

// Settings is the serialisable pipeline snapshot. All fields are pointers
// with omitempty tags so a partial restore payload leaves absent fields
// unchanged: only what the JSON names gets applied.
type Settings struct {
	CalibrationPoints []calib.Point `json:"calibration_points,omitempty"`
	UseCalibration    *bool         `json:"use_calibration,omitempty"`
	FlipXAxis         *bool         `json:"flip_x_axis,omitempty"`

	LineStart    *geom.Point2D `json:"line_start,omitempty"`
	LineEnd      *geom.Point2D `json:"line_end,omitempty"`
	LineYOffset  *float64      `json:"line_y_offset,omitempty"`
	LineRotation *float64      `json:"line_rotation,omitempty"`

	TargetFrameCount *int    `json:"target_frame_count,omitempty"`
	DisplayUnits     *string `json:"display_units,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptySettings returns a Settings with all fields absent. Applying it is a
// no-op.
func EmptySettings() *Settings {
	return &Settings{}
}

// LoadSettings loads a Settings snapshot from a JSON file. The file is
// validated to have a .json extension and to be under the max file size.
// Fields omitted from the JSON retain whatever the pipeline currently holds,
// so partial snapshots are safe.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := EmptySettings()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Save writes the settings snapshot as indented JSON.
func (s *Settings) Save(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("settings file must have .json extension, got %q", ext)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	if err := os.WriteFile(cleanPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}

// Validate checks that present fields hold usable values. Absent fields are
// always valid.
func (s *Settings) Validate() error {
	if s.TargetFrameCount != nil && *s.TargetFrameCount < 1 {
		return fmt.Errorf("%w: target_frame_count must be >= 1, got %d", linescan.ErrInvalidControlValue, *s.TargetFrameCount)
	}
	if s.LineYOffset != nil {
		if math.IsNaN(*s.LineYOffset) || math.Abs(*s.LineYOffset) > linescan.MaxYOffset {
			return fmt.Errorf("%w: line_y_offset must be within ±%v, got %v", linescan.ErrInvalidControlValue, linescan.MaxYOffset, *s.LineYOffset)
		}
	}
	if s.LineRotation != nil {
		if math.IsNaN(*s.LineRotation) || math.Abs(*s.LineRotation) > linescan.MaxRotation {
			return fmt.Errorf("%w: line_rotation must be within ±%v, got %v", linescan.ErrInvalidControlValue, linescan.MaxRotation, *s.LineRotation)
		}
	}
	if (s.LineStart == nil) != (s.LineEnd == nil) {
		return fmt.Errorf("%w: line_start and line_end must be supplied together", linescan.ErrInvalidControlValue)
	}
	if s.DisplayUnits != nil && !units.IsValid(*s.DisplayUnits) {
		return fmt.Errorf("%w: display_units must be one of %s, got %q", linescan.ErrInvalidControlValue, units.GetValidUnitsString(), *s.DisplayUnits)
	}
	if len(s.CalibrationPoints) > 0 {
		set := calib.Set{Points: s.CalibrationPoints, Enabled: true}
		if err := set.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetTargetFrameCount returns the target_frame_count value or the default.
func (s *Settings) GetTargetFrameCount() int {
	if s.TargetFrameCount == nil {
		return 1
	}
	return *s.TargetFrameCount
}

// GetDisplayUnits returns the display_units value or the default.
func (s *Settings) GetDisplayUnits() string {
	if s.DisplayUnits == nil {
		return units.NM
	}
	return *s.DisplayUnits
}

// GetUseCalibration returns the use_calibration value or the default.
func (s *Settings) GetUseCalibration() bool {
	if s.UseCalibration == nil {
		return false
	}
	return *s.UseCalibration
}

// GetFlipXAxis returns the flip_x_axis value or the default.
func (s *Settings) GetFlipXAxis() bool {
	if s.FlipXAxis == nil {
		return false
	}
	return *s.FlipXAxis
}

// Apply pushes the present fields into the pipeline. Absent fields leave the
// pipeline untouched. Each mutation goes through the pipeline's own
// validation, so a stale snapshot cannot install out-of-range values.
func (s *Settings) Apply(p *linescan.Pipeline) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.LineStart != nil && s.LineEnd != nil {
		if err := p.SetLine(*s.LineStart, *s.LineEnd); err != nil {
			return err
		}
	}
	if s.LineYOffset != nil {
		if err := p.SetYOffset(*s.LineYOffset); err != nil {
			return err
		}
	}
	if s.LineRotation != nil {
		if err := p.SetRotation(*s.LineRotation); err != nil {
			return err
		}
	}
	if s.TargetFrameCount != nil {
		if err := p.SetTarget(*s.TargetFrameCount); err != nil {
			return err
		}
	}
	if s.CalibrationPoints != nil || s.UseCalibration != nil || s.FlipXAxis != nil {
		set := p.Calibration()
		if s.CalibrationPoints != nil {
			set.Points = s.CalibrationPoints
		}
		if s.UseCalibration != nil {
			set.Enabled = *s.UseCalibration
		}
		if s.FlipXAxis != nil {
			set.FlipAxis = *s.FlipXAxis
		}
		if err := p.SetCalibration(set); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot captures the pipeline's current state as a full Settings value.
func Snapshot(p *linescan.Pipeline) *Settings {
	s := EmptySettings()
	if line, ok := p.Line(); ok {
		start, end := line.Start, line.End
		s.LineStart = &start
		s.LineEnd = &end
	}
	s.LineYOffset = ptrFloat64(p.YOffset())
	s.LineRotation = ptrFloat64(p.Rotation())
	_, target := p.Progress()
	s.TargetFrameCount = ptrInt(target)

	set := p.Calibration()
	s.CalibrationPoints = append([]calib.Point(nil), set.Points...)
	s.UseCalibration = ptrBool(set.Enabled)
	s.FlipXAxis = ptrBool(set.FlipAxis)
	return s
}
