package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/spectra.report/internal/calib"
	"github.com/banshee-data/spectra.report/internal/config"
	"github.com/banshee-data/spectra.report/internal/geom"
	"github.com/banshee-data/spectra.report/internal/httputil"
	"github.com/banshee-data/spectra.report/internal/linescan"
	"github.com/banshee-data/spectra.report/internal/tracedb"
	"github.com/banshee-data/spectra.report/internal/units"
	"github.com/banshee-data/spectra.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the pipeline controls and trace output over HTTP.
type Server struct {
	pipeline *linescan.Pipeline
	db       *tracedb.DB
	units    string

	mu     sync.Mutex
	latest *latestTrace
}

// latestTrace caches the most recent emission so /api/trace/latest does not
// need a database round trip per poll.
type latestTrace struct {
	Kind       string               `json:"kind"`
	Sample     *linescan.SampleSet  `json:"sample,omitempty"`
	Trace      *traceWithWavelength `json:"trace,omitempty"`
	ReceivedAt time.Time            `json:"received_at"`
}

type traceWithWavelength struct {
	linescan.AccumulatedTrace
	// Wavelengths is the calibrated display axis for Positions; identical to
	// Positions when calibration is disabled or unusable.
	Wavelengths []float64 `json:"wavelengths,omitempty"`
}

// NewServer wires the HTTP surface to a pipeline and trace store. db may be
// nil in tests; trace history endpoints then return 404.
func NewServer(pipeline *linescan.Pipeline, db *tracedb.DB, displayUnits string) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.NM
	}
	return &Server{pipeline: pipeline, db: db, units: displayUnits}
}

// Publish records an emitted tick result as the latest trace. Wire it as the
// pipeline's emit callback.
func (s *Server) Publish(res linescan.TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch res.Kind {
	case linescan.ResultSample:
		s.latest = &latestTrace{Kind: "sample", Sample: res.Sample, ReceivedAt: time.Now()}
	case linescan.ResultTrace:
		s.latest = &latestTrace{Kind: "trace", Trace: s.withWavelengths(res.Trace), ReceivedAt: time.Now()}
	}
}

// withWavelengths attaches the calibrated axis without mutating stored
// positions. Wavelengths come out in the configured display units.
func (s *Server) withWavelengths(trace *linescan.AccumulatedTrace) *traceWithWavelength {
	out := &traceWithWavelength{AccumulatedTrace: *trace}
	set := s.pipeline.Calibration()
	if len(trace.Positions) > 0 {
		wl := make([]float64, len(trace.Positions))
		for i, p := range trace.Positions {
			wl[i] = units.ConvertWavelength(set.PositionToWavelength(set.DisplayPosition(p)), s.units)
		}
		out.Wavelengths = wl
	}
	return out
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/trace/latest", s.showLatestTrace)
	mux.HandleFunc("/api/traces", s.listTraces)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/line", s.handleLine)
	mux.HandleFunc("/api/accumulation", s.handleAccumulation)
	mux.HandleFunc("/api/calibration", s.handleCalibration)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/debug/spectrum", s.handleSpectrumChart)
	return mux
}

// controlErrorStatus maps rejected control updates to 400 and everything
// else to 500.
func controlErrorStatus(err error) int {
	if errors.Is(err, linescan.ErrInvalidControlValue) ||
		errors.Is(err, calib.ErrTooFewPoints) ||
		errors.Is(err, calib.ErrDuplicatePosition) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) showLatestTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()

	if latest == nil {
		httputil.NotFound(w, "no trace emitted yet")
		return
	}
	httputil.WriteJSONOK(w, latest)
}

func (s *Server) listTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "trace store not configured")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	records, err := s.db.ListTraces(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve traces: %v", err))
		return
	}

	summaries := make([]tracedb.TraceSummary, len(records))
	for i := range records {
		summaries[i] = tracedb.Summarize(&records[i])
	}
	httputil.WriteJSONOK(w, summaries)
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	line, lineSet := s.pipeline.Line()
	buffered, target := s.pipeline.Progress()
	status := map[string]interface{}{
		"version":  version.Version,
		"mode":     s.pipeline.Mode(),
		"line_set": lineSet,
		"accumulation": map[string]int{
			"buffered": buffered,
			"target":   target,
		},
		"units": s.units,
	}
	if lineSet {
		status["line"] = line
		status["y_offset"] = s.pipeline.YOffset()
		status["rotation"] = s.pipeline.Rotation()
	}
	httputil.WriteJSONOK(w, status)
}

type lineRequest struct {
	Start    *geom.Point2D `json:"start"`
	End      *geom.Point2D `json:"end"`
	YOffset  *float64      `json:"y_offset"`
	Rotation *float64      `json:"rotation"`
}

func (s *Server) handleLine(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		s.pipeline.ClearLine()
		httputil.WriteJSONOK(w, map[string]string{"status": "line cleared"})
		return
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var req lineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if (req.Start == nil) != (req.End == nil) {
		httputil.BadRequest(w, "start and end must be supplied together")
		return
	}
	if req.Start != nil {
		if err := s.pipeline.SetLine(*req.Start, *req.End); err != nil {
			httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
			return
		}
	}
	if req.YOffset != nil {
		if err := s.pipeline.SetYOffset(*req.YOffset); err != nil {
			httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
			return
		}
	}
	if req.Rotation != nil {
		if err := s.pipeline.SetRotation(*req.Rotation); err != nil {
			httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
			return
		}
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type accumulationRequest struct {
	TargetFrameCount *int           `json:"target_frame_count"`
	Mode             *linescan.Mode `json:"mode"`
}

func (s *Server) handleAccumulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req accumulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if req.TargetFrameCount != nil {
		if err := s.pipeline.SetTarget(*req.TargetFrameCount); err != nil {
			httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
			return
		}
	}
	if req.Mode != nil {
		if err := s.pipeline.SetMode(*req.Mode); err != nil {
			httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
			return
		}
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.pipeline.Calibration())
		return
	case http.MethodPost:
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var set calib.Set
	if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := s.pipeline.SetCalibration(set); err != nil {
		httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, config.Snapshot(s.pipeline))
		return
	case http.MethodPost:
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var settings config.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if err := settings.Apply(s.pipeline); err != nil {
		httputil.WriteJSONError(w, controlErrorStatus(err), err.Error())
		return
	}

	// Persist the applied snapshot so a restart can restore it.
	if s.db != nil {
		payload, err := json.Marshal(config.Snapshot(s.pipeline))
		if err == nil {
			if _, err := s.db.RecordSettingsSnapshot(payload); err != nil {
				log.Printf("failed to persist settings snapshot: %v", err)
			}
		}
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}
