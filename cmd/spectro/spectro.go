package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/spectra.report/internal/api"
	"github.com/banshee-data/spectra.report/internal/config"
	"github.com/banshee-data/spectra.report/internal/fsutil"
	"github.com/banshee-data/spectra.report/internal/linescan"
	"github.com/banshee-data/spectra.report/internal/monitor"
	"github.com/banshee-data/spectra.report/internal/monitoring"
	"github.com/banshee-data/spectra.report/internal/timeutil"
	"github.com/banshee-data/spectra.report/internal/tracedb"
	"github.com/banshee-data/spectra.report/internal/units"
	"github.com/banshee-data/spectra.report/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (verbose pipeline diagnostics)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "traces.db", "SQLite trace database path")
	source      = flag.String("source", "gradient", "Frame source: 'gradient' or path to a PNG/JPEG replayed as frames")
	fps         = flag.Float64("fps", 30, "Frames per second to drive the pipeline at")
	settings    = flag.String("settings", "", "Optional settings JSON to restore on startup")
	displayU    = flag.String("units", units.NM, "Display wavelength units (nm, angstrom, um)")
	plotDir     = flag.String("plot-dir", "", "If set, write a PNG spectrum plot per accumulated trace into this directory")
	migrations  = flag.String("migrations", "migrations", "Path to schema migrations directory")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// loadFrameSource resolves the -source flag into a PixelBuffer. A still
// image is replayed as an identical frame every tick, which is enough for
// measuring a static scene.
func loadFrameSource(spec string) (linescan.PixelBuffer, error) {
	if spec == "gradient" {
		return &linescan.GradientBuffer{Width: 640, Height: 480}, nil
	}
	f, err := os.Open(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame source %q: %w", spec, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame source %q: %w", spec, err)
	}
	return linescan.NewImageBuffer(img), nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("spectro %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *fps <= 0 {
		log.Fatal("fps must be positive")
	}
	if !units.IsValid(*displayU) {
		log.Fatalf("invalid units %q, must be one of %s", *displayU, units.GetValidUnitsString())
	}

	if *devMode {
		linescan.SetDebugLogger(os.Stderr)
	}

	frame, err := loadFrameSource(*source)
	if err != nil {
		log.Fatalf("failed to load frame source: %v", err)
	}

	db, err := tracedb.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(*migrations); err != nil {
		log.Printf("schema migration skipped: %v", err)
	}

	plotter := monitor.NewTracePlotter(fsutil.OSFileSystem{})
	if *plotDir != "" {
		if err := plotter.Start(*plotDir); err != nil {
			log.Fatalf("failed to start trace plotter: %v", err)
		}
	}

	var server *api.Server
	var pipeline *linescan.Pipeline
	pipeline = linescan.NewPipeline(linescan.Config{
		TargetFrameCount: 1,
		Mode:             linescan.ModeLive,
		Emit: func(res linescan.TickResult) {
			server.Publish(res)
			switch res.Kind {
			case linescan.ResultTrace:
				if _, err := db.RecordTrace(res.Trace); err != nil {
					monitoring.Logf("failed to record trace: %v", err)
				}
				if err := plotter.Record(res.Trace, pipeline.Calibration()); err != nil {
					monitoring.Logf("failed to plot trace: %v", err)
				}
			case linescan.ResultSample:
				// Live samples are served from the latest-trace cache only;
				// persisting every frame would swamp the store.
			}
		},
	})
	defer pipeline.Close()
	server = api.NewServer(pipeline, db, *displayU)

	// Restore settings: explicit file wins, otherwise the last snapshot the
	// API persisted.
	if *settings != "" {
		restored, err := config.LoadSettings(*settings)
		if err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
		if err := restored.Apply(pipeline); err != nil {
			log.Fatalf("failed to apply settings: %v", err)
		}
	} else if payload, err := db.LatestSettingsSnapshot(); err == nil && payload != nil {
		restored := config.EmptySettings()
		if err := json.Unmarshal(payload, restored); err != nil {
			monitoring.Logf("ignoring stored settings snapshot: %v", err)
		} else if err := restored.Apply(pipeline); err != nil {
			monitoring.Logf("ignoring stored settings snapshot: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Frame loop: one tick per frame at the source's natural rate.
	clock := timeutil.RealClock{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := clock.NewTicker(time.Duration(float64(time.Second) / *fps))
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				pipeline.Tick(frame)
			case <-ctx.Done():
				log.Print("frame loop terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		db.AttachAdminRoutes(mux)

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
		log.Print("http server terminated")
	}()

	log.Printf("spectro %s listening on %s (source=%s fps=%.1f)", version.Version, *listen, *source, *fps)
	wg.Wait()
}
