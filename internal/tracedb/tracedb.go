// Package tracedb persists emitted traces in SQLite and exposes admin
// debugging routes over the live database.
package tracedb

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	"gonum.org/v1/gonum/floats"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/spectra.report/internal/linescan"
)

type DB struct {
	*sql.DB
	path string
}

// TraceKind distinguishes raw live samples from accumulated windows in
// storage.
type TraceKind string

const (
	KindLive        TraceKind = "live"
	KindAccumulated TraceKind = "accumulated"
)

// TraceRecord is one stored trace row. Channel data is stored as JSON
// arrays; values are raw sums for accumulated traces, per the pipeline's
// sum-not-mean contract.
type TraceRecord struct {
	ID         string    `json:"id"`
	Kind       TraceKind `json:"kind"`
	FrameCount int       `json:"frame_count"`
	LineLength float64   `json:"line_length"`
	Positions  []float64 `json:"positions"`
	Red        []float64 `json:"red"`
	Green      []float64 `json:"green"`
	Blue       []float64 `json:"blue"`
	Intensity  []float64 `json:"intensity"`
	CapturedAt time.Time `json:"captured_at"`
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS traces (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			frame_count       BIGINT NOT NULL,
			line_length       DOUBLE NOT NULL,
			positions         TEXT NOT NULL,
			red               TEXT NOT NULL,
			green             TEXT NOT NULL,
			blue              TEXT NOT NULL,
			intensity         TEXT NOT NULL,
			captured_at       TIMESTAMP NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_traces_captured_at ON traces(captured_at);
		CREATE TABLE IF NOT EXISTS settings_snapshots (
			snapshot_id       TEXT PRIMARY KEY,
			payload           TEXT NOT NULL,
			created_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{DB: db, path: path}, nil
}

// RecordSample stores a live SampleSet as a single-frame trace row.
func (db *DB) RecordSample(set *linescan.SampleSet) (string, error) {
	return db.record(KindLive, 1, &linescan.AccumulatedTrace{SampleSet: *set, FrameCount: 1})
}

// RecordTrace stores a completed accumulation window.
func (db *DB) RecordTrace(trace *linescan.AccumulatedTrace) (string, error) {
	return db.record(KindAccumulated, trace.FrameCount, trace)
}

func (db *DB) record(kind TraceKind, frameCount int, trace *linescan.AccumulatedTrace) (string, error) {
	if trace == nil || trace.Len() == 0 {
		return "", fmt.Errorf("refusing to record empty trace")
	}

	id := uuid.NewString()
	cols, err := marshalChannels(trace)
	if err != nil {
		return "", err
	}

	_, err = db.Exec(`
		INSERT INTO traces (id, kind, frame_count, line_length, positions, red, green, blue, intensity, captured_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(kind), frameCount, trace.LineLength,
		cols[0], cols[1], cols[2], cols[3], cols[4],
		trace.Timestamp.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert trace: %w", err)
	}
	return id, nil
}

func marshalChannels(trace *linescan.AccumulatedTrace) ([5]string, error) {
	var out [5]string
	for i, ch := range [][]float64{trace.Positions, trace.Red, trace.Green, trace.Blue, trace.Intensity} {
		b, err := json.Marshal(ch)
		if err != nil {
			return out, fmt.Errorf("failed to marshal channel data: %w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}

// LatestTrace returns the most recently captured trace, or nil if the store
// is empty.
func (db *DB) LatestTrace() (*TraceRecord, error) {
	rows, err := db.Query(`
		SELECT id, kind, frame_count, line_length, positions, red, green, blue, intensity, captured_at
		FROM traces ORDER BY captured_at DESC LIMIT 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanTraces(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListTraces returns up to limit traces, newest first.
func (db *DB) ListTraces(limit int) ([]TraceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, kind, frame_count, line_length, positions, red, green, blue, intensity, captured_at
		FROM traces ORDER BY captured_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraces(rows)
}

func scanTraces(rows *sql.Rows) ([]TraceRecord, error) {
	var records []TraceRecord
	for rows.Next() {
		var rec TraceRecord
		var kind string
		var positions, red, green, blue, intensity string
		if err := rows.Scan(&rec.ID, &kind, &rec.FrameCount, &rec.LineLength,
			&positions, &red, &green, &blue, &intensity, &rec.CapturedAt); err != nil {
			return nil, err
		}
		rec.Kind = TraceKind(kind)
		cols := []string{positions, red, green, blue, intensity}
		dsts := []*[]float64{&rec.Positions, &rec.Red, &rec.Green, &rec.Blue, &rec.Intensity}
		for i, col := range cols {
			if err := json.Unmarshal([]byte(col), dsts[i]); err != nil {
				return nil, fmt.Errorf("failed to unmarshal channel data: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// TraceSummary condenses one stored trace for listings.
type TraceSummary struct {
	ID            string    `json:"id"`
	Kind          TraceKind `json:"kind"`
	FrameCount    int       `json:"frame_count"`
	Samples       int       `json:"samples"`
	PeakPosition  float64   `json:"peak_position"`
	PeakIntensity float64   `json:"peak_intensity"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Summarize reduces a record to its peak-intensity sample.
func Summarize(rec *TraceRecord) TraceSummary {
	s := TraceSummary{
		ID:         rec.ID,
		Kind:       rec.Kind,
		FrameCount: rec.FrameCount,
		Samples:    len(rec.Positions),
		CapturedAt: rec.CapturedAt,
	}
	if len(rec.Intensity) > 0 {
		idx := floats.MaxIdx(rec.Intensity)
		s.PeakIntensity = rec.Intensity[idx]
		if idx < len(rec.Positions) {
			s.PeakPosition = rec.Positions[idx]
		}
	}
	return s
}

// RecordSettingsSnapshot stores a serialised settings payload so restores
// survive process restarts.
func (db *DB) RecordSettingsSnapshot(payload []byte) (string, error) {
	id := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO settings_snapshots (snapshot_id, payload) VALUES (?, ?)`,
		id, string(payload)); err != nil {
		return "", fmt.Errorf("failed to insert settings snapshot: %w", err)
	}
	return id, nil
}

// LatestSettingsSnapshot returns the most recent stored settings payload, or
// nil if none has been recorded.
func (db *DB) LatestSettingsSnapshot() ([]byte, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM settings_snapshots ORDER BY rowid DESC LIMIT 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// AttachAdminRoutes mounts live-database debugging endpoints on mux: a
// tailSQL console under /debug/tailsql/ and an on-demand gzip backup.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Trace DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the trace database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
