package linescan

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/spectra.report/internal/calib"
	"github.com/banshee-data/spectra.report/internal/geom"
)

// ErrInvalidControlValue marks a rejected control update (non-numeric or
// out-of-range frame count, offset or rotation). The previous valid value is
// always retained.
var ErrInvalidControlValue = errors.New("linescan: invalid control value")

// Control bounds. Updates outside these are rejected at the boundary.
const (
	MaxYOffset  = 50.0
	MaxRotation = 90.0
)

// ResultKind discriminates what a tick produced.
type ResultKind int

const (
	// ResultSkipped means the tick produced no data: no line is set, or the
	// frame source was unavailable. No state was mutated.
	ResultSkipped ResultKind = iota
	// ResultSample carries a raw per-frame SampleSet (live mode).
	ResultSample
	// ResultTrace carries a completed accumulation window.
	ResultTrace
	// ResultBuffered means the sample was absorbed into a window that is not
	// yet full (accumulate mode).
	ResultBuffered
)

// TickResult is the typed outcome of one pipeline tick. The caller decides
// whether and how to render it; the pipeline never blocks on consumers.
type TickResult struct {
	Kind   ResultKind
	Sample *SampleSet
	Trace  *AccumulatedTrace
	// Err is ErrSourceUnavailable for skipped-by-source ticks, nil otherwise.
	Err error
}

// EmitFunc receives emitted results (live samples and completed traces).
// Invocations are serialised on a dedicated worker goroutine; a slow
// consumer drops results rather than stalling the tick loop.
type EmitFunc func(TickResult)

// Pipeline drives one line-scan iteration per incoming video frame. All
// state it owns (line parameters, accumulation window, calibration) is
// private to the instance; ticks are serialised, and control updates apply
// between ticks, never mid-tick.
type Pipeline struct {
	mu sync.Mutex

	lineSet  bool
	original geom.LineSegment
	yOffset  float64
	rotation float64

	mode        Mode
	accumulator *Accumulator
	calibration calib.Set

	emit     EmitFunc
	emitCh   chan TickResult
	emitDone chan struct{}
}

// Config holds initial pipeline settings. Zero values select a live-mode
// pipeline with no line and a single-frame accumulation window.
type Config struct {
	TargetFrameCount int
	Mode             Mode
	Emit             EmitFunc
}

// NewPipeline constructs a pipeline. If an emit callback is configured a
// serialising worker goroutine is started; call Close to drain it.
func NewPipeline(cfg Config) *Pipeline {
	mode := cfg.Mode
	if !ValidMode(mode) {
		mode = ModeLive
	}
	p := &Pipeline{
		mode:        mode,
		accumulator: NewAccumulator(cfg.TargetFrameCount),
		emit:        cfg.Emit,
	}
	if p.emit != nil {
		p.emitCh = make(chan TickResult, 8)
		p.emitDone = make(chan struct{})
		go p.emitWorker()
	}
	return p
}

func (p *Pipeline) emitWorker() {
	defer close(p.emitDone)
	for res := range p.emitCh {
		p.emit(res)
	}
}

// Close shuts down the emit worker and waits for it to drain. Safe to call
// on pipelines constructed without an emit callback.
func (p *Pipeline) Close() {
	if p.emitCh != nil {
		close(p.emitCh)
		<-p.emitDone
	}
}

// Tick runs one iteration against the supplied frame: transform the original
// line with the current offset and rotation, sample it, and route the result
// by mode. A nil or unreadable frame skips the tick with zero state mutation.
func (p *Pipeline) Tick(frame PixelBuffer) TickResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lineSet {
		return TickResult{Kind: ResultSkipped}
	}

	line := geom.Transform(p.original, p.yOffset, p.rotation)
	set, err := Sample(frame, line)
	if err != nil {
		debugf("[Pipeline] tick skipped: %v", err)
		return TickResult{Kind: ResultSkipped, Err: err}
	}

	var res TickResult
	if p.mode == ModeAccumulating {
		if trace := p.accumulator.Push(set); trace != nil {
			res = TickResult{Kind: ResultTrace, Trace: trace}
		} else {
			res = TickResult{Kind: ResultBuffered}
		}
	} else {
		res = TickResult{Kind: ResultSample, Sample: set}
	}

	if res.Kind == ResultSample || res.Kind == ResultTrace {
		p.dispatch(res)
	}
	return res
}

// dispatch hands a result to the emit worker without blocking the tick.
func (p *Pipeline) dispatch(res TickResult) {
	if p.emitCh == nil {
		return
	}
	select {
	case p.emitCh <- res:
	default:
		debugf("[Pipeline] dropped emission: consumer queue full")
	}
}

// SetLine installs a new base line. The effective line is recomputed from
// this original segment every tick, so offset and rotation never drift.
// Setting a line discards any partially collected accumulation window.
func (p *Pipeline) SetLine(start, end geom.Point2D) error {
	if anyNaN(start.X, start.Y, end.X, end.Y) {
		return fmt.Errorf("%w: line endpoints must be numeric", ErrInvalidControlValue)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.original = geom.LineSegment{Start: start, End: end}
	p.lineSet = true
	p.accumulator.Reset()
	return nil
}

// ClearLine removes the line: subsequent ticks are skipped and the
// accumulation window is discarded.
func (p *Pipeline) ClearLine() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lineSet = false
	p.original = geom.LineSegment{}
	p.accumulator.Reset()
}

// SetYOffset updates the vertical line shift, bounded to ±MaxYOffset pixels.
func (p *Pipeline) SetYOffset(offset float64) error {
	if anyNaN(offset) || offset < -MaxYOffset || offset > MaxYOffset {
		return fmt.Errorf("%w: y offset %v outside ±%v", ErrInvalidControlValue, offset, MaxYOffset)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.yOffset = offset
	return nil
}

// SetRotation updates the line rotation, bounded to ±MaxRotation degrees.
func (p *Pipeline) SetRotation(degrees float64) error {
	if anyNaN(degrees) || degrees < -MaxRotation || degrees > MaxRotation {
		return fmt.Errorf("%w: rotation %v outside ±%v", ErrInvalidControlValue, degrees, MaxRotation)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotation = degrees
	return nil
}

// SetTarget changes the accumulation window size. Any partial window is
// discarded; collection restarts from zero toward the new target.
func (p *Pipeline) SetTarget(target int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accumulator.SetTarget(target) {
		return fmt.Errorf("%w: target frame count %d must be >= 1", ErrInvalidControlValue, target)
	}
	return nil
}

// SetMode toggles between live and accumulating output. Switching modes
// discards any partial window.
func (p *Pipeline) SetMode(mode Mode) error {
	if !ValidMode(mode) {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidControlValue, mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if mode != p.mode {
		p.mode = mode
		p.accumulator.Reset()
	}
	return nil
}

// SetCalibration replaces the calibration set. Invalid sets (fewer than two
// points while enabled, or duplicate positions) are rejected and the prior
// set retained.
func (p *Pipeline) SetCalibration(set calib.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calibration = set
	return nil
}

// Calibration returns the current calibration set.
func (p *Pipeline) Calibration() calib.Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calibration
}

// Line returns the base line and whether one is set.
func (p *Pipeline) Line() (geom.LineSegment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.original, p.lineSet
}

// YOffset returns the current vertical shift.
func (p *Pipeline) YOffset() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.yOffset
}

// Rotation returns the current rotation in degrees.
func (p *Pipeline) Rotation() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rotation
}

// Mode returns the current output mode.
func (p *Pipeline) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Progress reports accumulation progress as buffered/target frame counts.
func (p *Pipeline) Progress() (buffered, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accumulator.Buffered(), p.accumulator.Target()
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
