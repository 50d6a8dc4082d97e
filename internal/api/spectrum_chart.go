package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/spectra.report/internal/httputil"
)

// handleSpectrumChart renders a quick line chart (HTML) of the latest trace
// using go-echarts. This is a debugging-only endpoint (no auth) to eyeball
// the spectrum without a frontend.
func (s *Server) handleSpectrumChart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest == nil {
		httputil.NotFound(w, "no trace emitted yet")
		return
	}

	var positions, red, green, blue, intensity []float64
	var subtitle string
	switch {
	case latest.Trace != nil:
		t := latest.Trace
		positions = t.Wavelengths
		if len(positions) == 0 {
			positions = t.Positions
		}
		red, green, blue, intensity = t.Red, t.Green, t.Blue, t.Intensity
		subtitle = fmt.Sprintf("accumulated frames=%d samples=%d", t.FrameCount, t.Len())
	case latest.Sample != nil:
		sample := latest.Sample
		positions = sample.Positions
		red, green, blue, intensity = sample.Red, sample.Green, sample.Blue, sample.Intensity
		subtitle = fmt.Sprintf("live samples=%d", sample.Len())
	default:
		httputil.NotFound(w, "no trace emitted yet")
		return
	}

	xAxis := make([]string, len(positions))
	for i, p := range positions {
		xAxis[i] = fmt.Sprintf("%.4g", p)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Spectral Trace", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Spectral Trace", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "wavelength (" + s.units + ")"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "summed counts"}),
	)
	line.SetXAxis(xAxis).
		AddSeries("red", lineData(red)).
		AddSeries("green", lineData(green)).
		AddSeries("blue", lineData(blue)).
		AddSeries("intensity", lineData(intensity))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	return data
}
