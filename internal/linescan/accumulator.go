package linescan

import "gonum.org/v1/gonum/floats"

// Mode selects whether the pipeline emits every raw SampleSet or sums a
// window of frames into one AccumulatedTrace.
type Mode string

const (
	ModeLive         Mode = "live"
	ModeAccumulating Mode = "accumulate"
)

// ValidMode reports whether m is a recognised pipeline mode.
func ValidMode(m Mode) bool {
	return m == ModeLive || m == ModeAccumulating
}

// AccumulatedTrace is the channel-wise sum of a full accumulation window of
// SampleSets. Positions and LineLength are copied from the first set in the
// window; samples are never realigned if the line geometry moves mid-window.
//
// Values are raw sums, not means. Consumers that want per-frame averages
// divide by FrameCount themselves; the pipeline deliberately does not
// normalise.
type AccumulatedTrace struct {
	SampleSet
	FrameCount int `json:"frame_count"`
}

// Accumulator buffers SampleSets until a full window is collected, then emits
// their channel-wise sum and starts over. It is not safe for concurrent use;
// the pipeline serialises access (one tick at a time).
type Accumulator struct {
	target int
	buffer []*SampleSet
}

// NewAccumulator returns an accumulator with the given window size. Targets
// below one are coerced to one.
func NewAccumulator(target int) *Accumulator {
	if target < 1 {
		target = 1
	}
	return &Accumulator{target: target}
}

// Target returns the configured window size.
func (a *Accumulator) Target() int { return a.target }

// Buffered returns how many frames are held in the current window.
func (a *Accumulator) Buffered() int { return len(a.buffer) }

// SetTarget changes the window size and discards any partially collected
// window. Partial sums are never flushed. Targets below one are ignored and
// the previous target is retained; the caller surfaces that as an invalid
// control value.
func (a *Accumulator) SetTarget(target int) bool {
	if target < 1 {
		return false
	}
	a.target = target
	a.Reset()
	return true
}

// Reset discards the current window without emitting.
func (a *Accumulator) Reset() {
	a.buffer = a.buffer[:0]
}

// Push appends one SampleSet to the current window. When the window reaches
// the target count it returns the summed trace and clears the buffer;
// otherwise it returns nil.
func (a *Accumulator) Push(set *SampleSet) *AccumulatedTrace {
	if set == nil {
		return nil
	}
	a.buffer = append(a.buffer, set)
	if len(a.buffer) < a.target {
		return nil
	}
	trace := a.sum()
	a.Reset()
	return trace
}

// sum folds the buffered window into one trace. Only reachable with a
// non-empty buffer; Push guarantees that.
func (a *Accumulator) sum() *AccumulatedTrace {
	template := a.buffer[0]
	n := template.Len()

	trace := &AccumulatedTrace{
		SampleSet: SampleSet{
			Timestamp:  template.Timestamp,
			Positions:  append([]float64(nil), template.Positions...),
			Red:        make([]float64, n),
			Green:      make([]float64, n),
			Blue:       make([]float64, n),
			Intensity:  make([]float64, n),
			LineLength: template.LineLength,
		},
		FrameCount: len(a.buffer),
	}

	for _, set := range a.buffer {
		sumChannel(trace.Red, set.Red)
		sumChannel(trace.Green, set.Green)
		sumChannel(trace.Blue, set.Blue)
		sumChannel(trace.Intensity, set.Intensity)
	}
	return trace
}

// sumChannel adds src into dst elementwise. If the line geometry moved
// mid-window the lengths can disagree; the overlap is summed and the rest of
// the template indices keep their partial sums, matching the
// no-realignment contract.
func sumChannel(dst, src []float64) {
	if len(src) >= len(dst) {
		floats.Add(dst, src[:len(dst)])
		return
	}
	floats.Add(dst[:len(src)], src)
}
