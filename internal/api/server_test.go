package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectra.report/internal/calib"
	"github.com/banshee-data/spectra.report/internal/geom"
	"github.com/banshee-data/spectra.report/internal/linescan"
	"github.com/banshee-data/spectra.report/internal/units"
)

func newTestServer(t *testing.T) (*Server, *linescan.Pipeline) {
	t.Helper()
	pipeline := linescan.NewPipeline(linescan.Config{})
	t.Cleanup(pipeline.Close)
	return NewServer(pipeline, nil, units.NM), pipeline
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatusReflectsPipelineState(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "live", status["mode"])
	assert.Equal(t, false, status["line_set"])
	assert.NotContains(t, status, "line")
	assert.Equal(t, "dev", status["version"])

	require.NoError(t, pipeline.SetLine(geom.Point2D{X: 1, Y: 2}, geom.Point2D{X: 3, Y: 4}))
	require.NoError(t, pipeline.SetYOffset(5))

	rec = doJSON(t, mux, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, true, status["line_set"])
	assert.Contains(t, status, "line")
	assert.Equal(t, 5.0, status["y_offset"])
}

func TestLinePostAndDelete(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/line",
		`{"start":{"x":0,"y":10},"end":{"x":30,"y":10},"y_offset":5,"rotation":-15}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	line, ok := pipeline.Line()
	require.True(t, ok)
	assert.Equal(t, geom.Point2D{X: 30, Y: 10}, line.End)
	assert.Equal(t, 5.0, pipeline.YOffset())
	assert.Equal(t, -15.0, pipeline.Rotation())

	rec = doJSON(t, mux, http.MethodDelete, "/api/line", "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = pipeline.Line()
	assert.False(t, ok)
}

func TestLinePostValidation(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()
	require.NoError(t, pipeline.SetYOffset(10))

	t.Run("out of range offset", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/line", `{"y_offset":51}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 10.0, pipeline.YOffset(), "rejected update leaves value unchanged")
	})

	t.Run("start without end", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/line", `{"start":{"x":0,"y":0}}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/line", `{"start":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported method", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPut, "/api/line", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestAccumulationControls(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/accumulation",
		`{"target_frame_count":5,"mode":"accumulate"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, linescan.ModeAccumulating, pipeline.Mode())
	_, target := pipeline.Progress()
	assert.Equal(t, 5, target)

	t.Run("target below one", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/accumulation", `{"target_frame_count":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		_, target := pipeline.Progress()
		assert.Equal(t, 5, target)
	})

	t.Run("unknown mode", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/accumulation", `{"mode":"bogus"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, linescan.ModeAccumulating, pipeline.Mode())
	})
}

func TestCalibrationGetAndPost(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/calibration",
		`{"points":[{"position":0.25,"wavelength":450},{"position":0.75,"wavelength":650}],"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, pipeline.Calibration().Enabled)

	rec = doJSON(t, mux, http.MethodGet, "/api/calibration", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var set calib.Set
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Points, 2)
	assert.Equal(t, 450.0, set.Points[0].Wavelength)

	t.Run("duplicate positions rejected", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/calibration",
			`{"points":[{"position":0.5,"wavelength":450},{"position":0.5,"wavelength":650}],"enabled":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Len(t, pipeline.Calibration().Points, 2, "previous calibration retained")
	})
}

func TestSettingsRoundTripOverHTTP(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodPost, "/api/settings",
		`{"line_start":{"x":0,"y":10},"line_end":{"x":20,"y":10},"target_frame_count":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, target := pipeline.Progress()
	assert.Equal(t, 7, target)

	rec = doJSON(t, mux, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, 7.0, snapshot["target_frame_count"])
	assert.Contains(t, snapshot, "line_start")

	t.Run("invalid snapshot rejected", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/settings", `{"target_frame_count":0}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		_, target := pipeline.Progress()
		assert.Equal(t, 7, target)
	})
}

func TestLatestTraceLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodGet, "/api/trace/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing emitted yet")

	set := &linescan.SampleSet{
		Timestamp:  time.Now(),
		Positions:  []float64{0, 1},
		Red:        []float64{10, 20},
		Green:      []float64{0, 0},
		Blue:       []float64{0, 0},
		Intensity:  []float64{5, 10},
		LineLength: 1,
	}
	server.Publish(linescan.TickResult{Kind: linescan.ResultSample, Sample: set})

	rec = doJSON(t, mux, http.MethodGet, "/api/trace/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest struct {
		Kind   string              `json:"kind"`
		Sample *linescan.SampleSet `json:"sample"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "sample", latest.Kind)
	require.NotNil(t, latest.Sample)
	assert.Equal(t, []float64{10, 20}, latest.Sample.Red)

	// Skipped and buffered results must not displace the cached emission.
	server.Publish(linescan.TickResult{Kind: linescan.ResultBuffered})
	rec = doJSON(t, mux, http.MethodGet, "/api/trace/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLatestTraceCarriesCalibratedWavelengths(t *testing.T) {
	server, pipeline := newTestServer(t)
	mux := server.ServeMux()

	require.NoError(t, pipeline.SetCalibration(calib.Set{
		Points: []calib.Point{
			{Position: 0.25, Wavelength: 450},
			{Position: 0.75, Wavelength: 650},
		},
		Enabled: true,
	}))

	trace := &linescan.AccumulatedTrace{
		SampleSet: linescan.SampleSet{
			Timestamp:  time.Now(),
			Positions:  []float64{0, 0.5, 1},
			Red:        []float64{1, 2, 3},
			Green:      []float64{0, 0, 0},
			Blue:       []float64{0, 0, 0},
			Intensity:  []float64{1, 2, 3},
			LineLength: 10,
		},
		FrameCount: 2,
	}
	server.Publish(linescan.TickResult{Kind: linescan.ResultTrace, Trace: trace})

	rec := doJSON(t, mux, http.MethodGet, "/api/trace/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var latest struct {
		Kind  string `json:"kind"`
		Trace struct {
			Positions   []float64 `json:"positions"`
			Wavelengths []float64 `json:"wavelengths"`
		} `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, "trace", latest.Kind)
	assert.Equal(t, []float64{0, 0.5, 1}, latest.Trace.Positions, "stored positions stay normalized")
	require.Len(t, latest.Trace.Wavelengths, 3)
	assert.InDelta(t, 350, latest.Trace.Wavelengths[0], 1e-9)
	assert.InDelta(t, 550, latest.Trace.Wavelengths[1], 1e-9)
	assert.InDelta(t, 750, latest.Trace.Wavelengths[2], 1e-9)
}

func TestSpectrumChart(t *testing.T) {
	server, _ := newTestServer(t)
	mux := server.ServeMux()

	rec := doJSON(t, mux, http.MethodGet, "/debug/spectrum", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing emitted yet")

	server.Publish(linescan.TickResult{Kind: linescan.ResultSample, Sample: &linescan.SampleSet{
		Timestamp: time.Now(),
		Positions: []float64{0, 0.5, 1},
		Red:       []float64{1, 2, 3},
		Green:     []float64{1, 2, 3},
		Blue:      []float64{1, 2, 3},
		Intensity: []float64{1, 2, 3},
	}})

	rec = doJSON(t, mux, http.MethodGet, "/debug/spectrum", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Spectral Trace")
}

func TestListTracesWithoutStore(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doJSON(t, server.ServeMux(), http.MethodGet, "/api/traces", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{100, "100"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
