package linescan

import (
	"math"
	"time"

	"github.com/banshee-data/spectra.report/internal/geom"
)

// SampleSet is one frame's line-scan result: per-channel values sampled at
// evenly spaced positions along the active line.
//
// Positions, Red, Green, Blue and Intensity always have identical length of
// at least one; a zero-length line still produces a single sample at the
// (coincident) endpoints.
type SampleSet struct {
	Timestamp time.Time `json:"timestamp"`
	// Positions holds normalised distances along the line in [0,1],
	// strictly increasing, independent of pixel clamping.
	Positions []float64 `json:"positions"`
	Red       []float64 `json:"red"`
	Green     []float64 `json:"green"`
	Blue      []float64 `json:"blue"`
	Intensity []float64 `json:"intensity"`
	// LineLength is the pixel length of the sampled segment at capture time.
	LineLength float64 `json:"line_length"`
}

// Len returns the number of samples in the set.
func (s *SampleSet) Len() int { return len(s.Positions) }

// Sample reads per-channel values along line from frame.
//
// The segment is divided into max(ceil(length),1) spans, sampled inclusively
// at both endpoints, so a line of euclidean length d yields max(ceil(d),1)+1
// samples roughly one pixel apart. Sample coordinates are rounded to the
// nearest pixel and clamped into the frame; the recorded normalised position
// is unaffected by clamping.
//
// A nil frame or a frame with non-positive dimensions yields
// ErrSourceUnavailable and no SampleSet.
func Sample(frame PixelBuffer, line geom.LineSegment) (*SampleSet, error) {
	if frame == nil {
		return nil, ErrSourceUnavailable
	}
	width, height := frame.Bounds()
	if width <= 0 || height <= 0 {
		return nil, ErrSourceUnavailable
	}

	length := line.Length()
	segmentCount := int(math.Ceil(length))
	if segmentCount < 1 {
		segmentCount = 1
	}
	n := segmentCount + 1

	set := &SampleSet{
		Timestamp:  time.Now(),
		Positions:  make([]float64, n),
		Red:        make([]float64, n),
		Green:      make([]float64, n),
		Blue:       make([]float64, n),
		Intensity:  make([]float64, n),
		LineLength: length,
	}

	dx := line.End.X - line.Start.X
	dy := line.End.Y - line.Start.Y
	for i := 0; i < n; i++ {
		t := float64(i) / float64(segmentCount)
		x := clampInt(int(math.Round(line.Start.X+t*dx)), 0, width-1)
		y := clampInt(int(math.Round(line.Start.Y+t*dy)), 0, height-1)

		r, g, b := frame.RGBAt(x, y)
		set.Positions[i] = t
		set.Red[i] = float64(r)
		set.Green[i] = float64(g)
		set.Blue[i] = float64(b)
		// Plain channel mean, not perceptual luminance: the trace is a
		// physical intensity estimate, not a display quantity.
		set.Intensity[i] = (float64(r) + float64(g) + float64(b)) / 3.0
	}

	return set, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
