// Package app assembles the collaborators of one command invocation: logging,
// raster IO, metrics, the batch runner and the shutdown lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/batch"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/config"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/rasterio"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/report"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/shutdown"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/telemetry"
)

const (
	AppName    = "waterfuse"
	AppVersion = "1.0.0"
	// ReaderCacheTTL bounds how long decoded rasters stay in memory.
	ReaderCacheTTL = 10 * time.Minute
)

const component = "Application"

// Options tune construction. The zero value logs to the console on stderr.
type Options struct {
	LogWriter io.Writer
	// Reader and Writer replace the GeoTIFF implementations, mostly in tests.
	Reader rasterio.Reader
	Writer rasterio.Writer
}

type Application struct {
	cfg       *config.Config
	runID     string
	logger    logger.Logger
	reader    *rasterio.CachedReader
	metrics   *telemetry.Metrics
	runner    *batch.Runner
	lifecycle *Lifecycle
}

// NewApplication wires everything for cfg. Close must be called when done.
func NewApplication(parent context.Context, cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no configuration: %w", raster.ErrMissingInput)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	var base *logger.ZerologAdapter
	if opts.LogWriter != nil {
		base = logger.NewZerolog(opts.LogWriter, level)
	} else {
		base = logger.NewConsoleLogger(level)
	}
	runID := report.NewRunID()
	log := base.With("run_id", runID)

	var next rasterio.Reader = rasterio.NewGDALReader(cfg.Policy(), log)
	if opts.Reader != nil {
		next = opts.Reader
	}
	var writer rasterio.Writer = rasterio.NewGeoTIFFWriter(log)
	if opts.Writer != nil {
		writer = opts.Writer
	}
	reader := rasterio.NewCachedReader(next, ReaderCacheTTL)
	metrics := telemetry.NewMetrics()

	runner, err := batch.New(cfg, batch.Deps{
		Reader:  reader,
		Writer:  writer,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	lifecycle := NewLifecycle(parent, log, metrics, cfg.MetricsTextfile)
	lifecycle.Register(shutdown.ShutdownFunc(func() {
		log.Debug(component, "dropping raster cache", map[string]interface{}{
			"entries": reader.Len(),
		})
		reader.Flush()
	}))

	log.Info(component, "starting", map[string]interface{}{
		"version":   AppVersion,
		"scenes":    len(cfg.Scenes),
		"log_level": level.String(),
	})

	return &Application{
		cfg:       cfg,
		runID:     runID,
		logger:    log,
		reader:    reader,
		metrics:   metrics,
		runner:    runner,
		lifecycle: lifecycle,
	}, nil
}

func (a *Application) RunID() string {
	return a.runID
}

// Context is cancelled on SIGINT, SIGTERM or Close.
func (a *Application) Context() context.Context {
	return a.lifecycle.Context()
}

// RunBatch processes every configured scene and writes the report. An
// interrupted run still writes what finished, then returns the context error.
func (a *Application) RunBatch() (report.Document, string, error) {
	res, runErr := a.runner.Run(a.Context())
	doc := report.Build(a.runID, res.Report, res.Skipped)
	doc.Outputs = res.Outputs

	path, err := a.writeReport("report", doc)
	if err != nil {
		return doc, "", err
	}
	return doc, path, runErr
}

// RunMonteCarlo writes the Monte Carlo probability of one raster. The input
// is a band stack unless isIndex is set, in which case band 1 already holds
// the water index.
func (a *Application) RunMonteCarlo(inputPath, outPath string, isIndex bool) error {
	if inputPath == "" || outPath == "" {
		return fmt.Errorf("input and output paths are required: %w", raster.ErrMissingInput)
	}
	var err error
	if isIndex {
		_, err = a.runner.MonteCarloIndex(a.Context(), inputPath, outPath)
	} else {
		_, err = a.runner.MonteCarlo(a.Context(), inputPath, outPath)
	}
	if err != nil {
		return err
	}
	a.logger.Info(component, "probability written", map[string]interface{}{
		"input":  inputPath,
		"index":  isIndex,
		"output": outPath,
	})
	return nil
}

// Evaluate scores predictionPath against the references of one configured
// scene. An empty predictionPath means the ensemble probability a previous
// run wrote for that scene.
func (a *Application) Evaluate(sceneID, predictionPath string) (report.Document, string, error) {
	var scene *config.Scene
	for i := range a.cfg.Scenes {
		if a.cfg.Scenes[i].ID == sceneID {
			scene = &a.cfg.Scenes[i]
			break
		}
	}
	if scene == nil {
		return report.Document{}, "", fmt.Errorf("scene %q is not configured: %w", sceneID, raster.ErrMissingInput)
	}
	if predictionPath == "" {
		predictionPath = filepath.Join(a.cfg.OutputDir, scene.ID+"_ensemble_prob.tif")
	}

	res, runErr := a.runner.EvaluateScene(a.Context(), *scene, predictionPath)
	doc := report.Build(a.runID, res.Report, res.Skipped)
	path, err := a.writeReport("evaluation_"+scene.ID, doc)
	if err != nil {
		return doc, "", err
	}
	return doc, path, runErr
}

// Close writes the metrics textfile, if configured, and runs the shutdown
// sequence.
func (a *Application) Close() error {
	return a.lifecycle.Shutdown()
}

func (a *Application) writeReport(name string, doc report.Document) (string, error) {
	format, err := a.cfg.Format()
	if err != nil {
		return "", err
	}
	path := filepath.Join(a.cfg.OutputDir, name+format.Extension())
	if err := report.Write(path, doc, format); err != nil {
		return "", err
	}
	a.logger.Info(component, "report written", map[string]interface{}{
		"path":    path,
		"entries": doc.Results.Len(),
		"skipped": len(doc.Skipped),
	})
	return path, nil
}
