// Package geom provides the 2D line geometry used by the line-scan sampler.
package geom

import "math"

// Point2D is a pixel-space coordinate. Values are float64 because the
// transformed line endpoints generally fall between pixel centres.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LineSegment is a directed segment from Start to End in pixel space.
type LineSegment struct {
	Start Point2D `json:"start"`
	End   Point2D `json:"end"`
}

// Midpoint returns the centre of the segment.
func (l LineSegment) Midpoint() Point2D {
	return Point2D{
		X: (l.Start.X + l.End.X) / 2,
		Y: (l.Start.Y + l.End.Y) / 2,
	}
}

// Length returns the euclidean length of the segment in pixels.
func (l LineSegment) Length() float64 {
	dx := l.End.X - l.Start.X
	dy := l.End.Y - l.Start.Y
	return math.Hypot(dx, dy)
}

// Transform rotates the segment about its own midpoint by rotationDeg
// (counter-clockwise, degrees) and then shifts both endpoints vertically by
// yOffset pixels. The offset is applied after rotation and is not itself
// rotated. The original segment is never mutated; the effective line is
// recomputed from the original every frame so repeated adjustments cannot
// accumulate drift.
//
// No validation is performed: NaN inputs propagate to the output.
func Transform(original LineSegment, yOffset, rotationDeg float64) LineSegment {
	center := original.Midpoint()
	rad := rotationDeg * math.Pi / 180.0
	sin, cos := math.Sincos(rad)

	rotate := func(p Point2D) Point2D {
		dx := p.X - center.X
		dy := p.Y - center.Y
		return Point2D{
			X: center.X + dx*cos - dy*sin,
			Y: center.Y + dx*sin + dy*cos + yOffset,
		}
	}

	return LineSegment{Start: rotate(original.Start), End: rotate(original.End)}
}
