// Package calib maps normalised line positions to physical wavelengths using
// a two-or-more point piecewise-linear calibration.
//
// Calibration is pure display metadata: sampled trace data always carries raw
// normalised positions and is never rewritten when the calibration changes.
package calib

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTooFewPoints marks a calibration update with fewer than two anchors.
var ErrTooFewPoints = errors.New("calib: at least two calibration points required")

// ErrDuplicatePosition marks two anchors sharing one position, which would
// make an interpolation interval zero-width.
var ErrDuplicatePosition = errors.New("calib: duplicate calibration position")

// Point anchors a normalised line position to a known wavelength
// (nanometres).
type Point struct {
	Position   float64 `json:"position"`
	Wavelength float64 `json:"wavelength"`
}

// Set is a full calibration: anchor points plus the display flags. Points
// need not be supplied sorted; the mapper orders them internally. The zero
// value is a disabled, empty calibration that maps positions to themselves.
type Set struct {
	Points   []Point `json:"points"`
	Enabled  bool    `json:"enabled"`
	FlipAxis bool    `json:"flip_axis"`
}

// Validate rejects calibration sets the mapper cannot use: fewer than two
// points, or two points at the same position. An empty disabled set is
// valid (identity mapping).
func (s Set) Validate() error {
	if !s.Enabled && len(s.Points) == 0 {
		return nil
	}
	if len(s.Points) < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewPoints, len(s.Points))
	}
	pts := s.sorted()
	for i := 1; i < len(pts); i++ {
		if pts[i].Position == pts[i-1].Position {
			return fmt.Errorf("%w: %v", ErrDuplicatePosition, pts[i].Position)
		}
	}
	return nil
}

// usable reports whether the set can actually map positions. Unusable sets
// degrade to identity rather than producing NaN or Inf.
func (s Set) usable() bool {
	return s.Enabled && len(s.Points) >= 2 && s.Validate() == nil
}

func (s Set) sorted() []Point {
	pts := append([]Point(nil), s.Points...)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Position < pts[j].Position })
	return pts
}

// PositionToWavelength maps a normalised position to a wavelength.
//
// Inside the calibrated range the mapping interpolates linearly between the
// bracketing anchors. Below the first anchor it extrapolates with the slope
// of the first pair; above the last anchor, with the slope of the last pair.
// The mapping is therefore exact at every anchor and continuous everywhere.
//
// When the set is disabled or unusable the position is returned unchanged,
// so a displayed axis degrades to raw normalised position.
func (s Set) PositionToWavelength(position float64) float64 {
	if !s.usable() {
		return position
	}
	pts := s.sorted()
	last := len(pts) - 1

	switch {
	case position <= pts[0].Position:
		return lerp(pts[0], pts[1], position)
	case position >= pts[last].Position:
		return lerp(pts[last-1], pts[last], position)
	}

	// sort.Search finds the first anchor strictly right of position; the
	// boundary cases above guarantee 1 <= hi <= last.
	hi := sort.Search(len(pts), func(i int) bool { return pts[i].Position > position })
	return lerp(pts[hi-1], pts[hi], position)
}

// Wavelengths maps a whole positions slice in one call, for attaching a
// calibrated axis to an emitted trace.
func (s Set) Wavelengths(positions []float64) []float64 {
	out := make([]float64, len(positions))
	for i, p := range positions {
		out[i] = s.PositionToWavelength(p)
	}
	return out
}

// DisplayPosition applies the flip-axis flag: a pure display transform that
// mirrors positions without touching stored sample data. Flipping twice is
// the identity.
func (s Set) DisplayPosition(position float64) float64 {
	if s.FlipAxis {
		return 1 - position
	}
	return position
}

// lerp interpolates (or extrapolates) along the line through a and b.
// Validate guarantees a.Position != b.Position for usable sets.
func lerp(a, b Point, position float64) float64 {
	t := (position - a.Position) / (b.Position - a.Position)
	return a.Wavelength + t*(b.Wavelength-a.Wavelength)
}
