// Package monitor renders emitted traces as PNG plots for offline
// inspection.
package monitor

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/spectra.report/internal/calib"
	"github.com/banshee-data/spectra.report/internal/fsutil"
	"github.com/banshee-data/spectra.report/internal/linescan"
	"github.com/banshee-data/spectra.report/internal/security"
)

// TracePlotter writes one spectrum plot per recorded trace. It is disabled
// until Start is called; Record is a no-op while disabled so it can stay
// wired into the emit path permanently.
type TracePlotter struct {
	fs fsutil.FileSystem

	mu        sync.Mutex
	enabled   bool
	outputDir string
	plotIdx   int
}

// NewTracePlotter returns a disabled plotter writing through fs.
func NewTracePlotter(fs fsutil.FileSystem) *TracePlotter {
	return &TracePlotter{fs: fs}
}

// Start enables plotting into outputDir, creating it if needed.
func (tp *TracePlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := tp.fs.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tp.outputDir = outputDir
	tp.enabled = true
	tp.plotIdx = 0
	return nil
}

// Stop disables plotting.
func (tp *TracePlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TracePlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// Record renders one accumulated trace to a PNG. The x axis is the
// calibrated wavelength when the supplied calibration is usable, raw
// normalised position otherwise.
func (tp *TracePlotter) Record(trace *linescan.AccumulatedTrace, calibration calib.Set) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.enabled || trace == nil || trace.Len() == 0 {
		return nil
	}
	tp.plotIdx++

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Spectral Trace %d (frames=%d)", tp.plotIdx, trace.FrameCount)
	p.X.Label.Text = "Wavelength (nm)"
	p.Y.Label.Text = "Summed counts"

	xs := make([]float64, trace.Len())
	for i, pos := range trace.Positions {
		xs[i] = calibration.PositionToWavelength(calibration.DisplayPosition(pos))
	}

	channels := []struct {
		name   string
		values []float64
		color  color.RGBA
	}{
		{"red", trace.Red, color.RGBA{R: 220, A: 255}},
		{"green", trace.Green, color.RGBA{G: 180, A: 255}},
		{"blue", trace.Blue, color.RGBA{B: 220, A: 255}},
		{"intensity", trace.Intensity, color.RGBA{R: 120, G: 120, B: 120, A: 255}},
	}
	for _, ch := range channels {
		pts := make(plotter.XYs, len(ch.values))
		for i, v := range ch.values {
			pts[i] = plotter.XY{X: xs[i], Y: v}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = ch.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(ch.name, line)
	}

	stamp := security.SanitizeFilename(trace.Timestamp.UTC().Format(time.RFC3339))
	file := filepath.Join(tp.outputDir, fmt.Sprintf("trace_%04d_%s.png", tp.plotIdx, stamp))

	wt, err := p.WriterTo(12*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render trace plot: %w", err)
	}
	f, err := tp.fs.Create(file)
	if err != nil {
		return fmt.Errorf("failed to create trace plot file: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write trace plot: %w", err)
	}
	return f.Close()
}
