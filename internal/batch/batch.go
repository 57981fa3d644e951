// Package batch runs the full workflow for every configured scene: align the
// inputs, sweep the water index, fuse with the model probability, write the
// outputs and evaluate them against the references.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/align"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/boundary"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/config"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/evaluation"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/fusion"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/index"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/montecarlo"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/rasterio"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/report"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/telemetry"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/threshold"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/timing"

	"golang.org/x/sync/errgroup"
)

const component = "Batch"

// Stage names used for timing.
const (
	StageAlign      = "align"
	StageIndex      = "index"
	StageMonteCarlo = "montecarlo"
	StageFusion     = "fusion"
	StageWrite      = "write"
	StageEvaluate   = "evaluate"
)

// Deps are the collaborators of a Runner. Reader and Writer are required.
type Deps struct {
	Reader  rasterio.Reader
	Writer  rasterio.Writer
	Logger  logger.Logger
	Metrics *telemetry.Metrics
	// AOI overrides the aoi path of the configuration when set.
	AOI *boundary.AOI
}

// Result is the best-effort outcome of a run.
type Result struct {
	Report  evaluation.Report
	Skipped []evaluation.Skipped
	Outputs map[string]report.SceneOutput
}

type Runner struct {
	cfg         *config.Config
	reader      rasterio.Reader
	writer      rasterio.Writer
	logger      logger.Logger
	metrics     *telemetry.Metrics
	tracker     *timing.Tracker
	aligner     *align.Aligner
	thresholder *montecarlo.Thresholder
	harness     *evaluation.Harness
	bandPolicy  nodata.Policy
	rule        fusion.Rule
	evalSet     threshold.Set
	aoi         *boundary.AOI
}

// New validates cfg and wires the pipeline. No raster is read here.
func New(cfg *config.Config, deps Deps) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no configuration: %w", raster.ErrMissingInput)
	}
	if deps.Reader == nil || deps.Writer == nil {
		return nil, fmt.Errorf("reader and writer are required: %w", raster.ErrMissingInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	thresholder, err := montecarlo.New(cfg.MonteCarlo(), log)
	if err != nil {
		return nil, err
	}
	rule, err := cfg.Rule()
	if err != nil {
		return nil, err
	}
	evalSet, err := cfg.EvalThresholdSet()
	if err != nil {
		return nil, err
	}

	aoi := deps.AOI
	if aoi == nil && cfg.AOI != "" {
		if aoi, err = loadAOI(cfg.AOI, cfg.AOICRS); err != nil {
			return nil, err
		}
	}

	return &Runner{
		cfg:         cfg,
		reader:      deps.Reader,
		writer:      deps.Writer,
		logger:      log,
		metrics:     metrics,
		tracker:     timing.NewTracker(metrics),
		aligner:     align.New(log),
		thresholder: thresholder,
		harness:     evaluation.NewHarness(cfg.Policy(), log),
		bandPolicy:  cfg.BandPolicy(),
		rule:        rule,
		evalSet:     evalSet,
		aoi:         aoi,
	}, nil
}

// loadAOI reads the AOI file. crs, when set, replaces the reference system
// the file declares; a file AOI must end up with one.
func loadAOI(path, crs string) (*boundary.AOI, error) {
	aoi, err := boundary.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load AOI: %w", err)
	}
	if crs != "" {
		def, err := rasterio.ResolveCRS(crs)
		if err != nil {
			return nil, err
		}
		if aoi, err = aoi.WithCRS(def); err != nil {
			return nil, err
		}
	}
	if aoi.SR == nil {
		return nil, fmt.Errorf("AOI %s has no reference system, set aoi_crs: %w", path, raster.ErrGeometryMismatch)
	}
	return &aoi, nil
}

// Tracker exposes stage timings of the runs made so far.
func (r *Runner) Tracker() *timing.Tracker {
	return r.tracker
}

// Run processes every scene, at most scene_workers at a time. A scene that
// fails is recorded as skipped and does not stop the others. Cancelling ctx
// stops scenes that have not finished; finished scenes stay in the result.
// The returned error is only ever the context error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	builder := evaluation.NewReportBuilder()
	outputs := make(map[string]report.SceneOutput)
	var mu sync.Mutex

	start := time.Now()
	r.logger.Info(component, "batch started", map[string]interface{}{
		"scenes":        len(r.cfg.Scenes),
		"scene_workers": r.cfg.SceneWorkers,
		"n_samples":     r.cfg.NSamples,
		"fusion_rule":   string(r.rule),
	})

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.SceneWorkers)
	for _, scene := range r.cfg.Scenes {
		g.Go(func() error {
			out, err := r.runScene(ctx, builder, scene)
			if err != nil {
				r.skipScene(builder, scene.ID, err)
				return nil
			}
			r.metrics.ScenesTotal.WithLabelValues("ok").Inc()
			mu.Lock()
			outputs[scene.ID] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rep, skipped := builder.Build()
	r.countEntries(rep, skipped)
	r.logger.Info(component, "batch finished", map[string]interface{}{
		"entries": rep.Len(),
		"skipped": len(skipped),
		"outputs": len(outputs),
		"elapsed": time.Since(start).String(),
		"stages":  r.tracker.Summary(),
	})
	return Result{Report: rep, Skipped: skipped, Outputs: outputs}, ctx.Err()
}

func (r *Runner) runScene(ctx context.Context, builder *evaluation.ReportBuilder, scene config.Scene) (report.SceneOutput, error) {
	var out report.SceneOutput
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("scene not started: %w", err)
	}
	if scene.ModelProbability == "" {
		return out, fmt.Errorf("scene %s has no model probability raster: %w", scene.ID, raster.ErrMissingInput)
	}

	mndwi, target, err := r.indexSurface(scene.Bands)
	if err != nil {
		return out, err
	}
	model, err := r.alignModel(scene.ModelProbability, target)
	if err != nil {
		return out, err
	}
	mcProb, err := r.sweep(ctx, mndwi)
	if err != nil {
		return out, err
	}
	prob, mask, err := r.fuse(mcProb, model)
	if err != nil {
		return out, err
	}
	if out, err = r.writeOutputs(scene.ID, prob, mask); err != nil {
		return out, err
	}
	refs := r.evaluate(ctx, builder, scene, prob)

	r.logger.Info(component, "scene complete", map[string]interface{}{
		"scene":      scene.ID,
		"grid":       target.String(),
		"references": len(refs),
		"mask":       out.Mask,
	})
	return out, nil
}

func (r *Runner) alignModel(path string, target raster.Grid) (*raster.Surface, error) {
	defer r.tracker.Start(StageAlign)()
	model, err := rasterio.ReadBand(r.reader, path, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read model probability: %w", err)
	}
	return r.aligner.Align(model, r.aoi, target)
}

func (r *Runner) fuse(mcProb, model *raster.Surface) (prob, mask *raster.Surface, err error) {
	defer r.tracker.Start(StageFusion)()
	return fusion.Fuse([]*raster.Surface{mcProb, model}, r.rule, r.cfg.DecisionThreshold)
}

func (r *Runner) writeOutputs(sceneID string, prob, mask *raster.Surface) (report.SceneOutput, error) {
	defer r.tracker.Start(StageWrite)()
	out := report.SceneOutput{
		Probability: filepath.Join(r.cfg.OutputDir, sceneID+"_ensemble_prob.tif"),
		Mask:        filepath.Join(r.cfg.OutputDir, sceneID+"_ensemble_mask.tif"),
	}
	if err := r.writer.WriteProbability(out.Probability, prob); err != nil {
		return out, err
	}
	if err := r.writer.WriteMask(out.Mask, mask); err != nil {
		return out, err
	}
	return out, nil
}

// evaluate scores pred against the references of scene on the grid of pred
// and returns the references that could be loaded.
func (r *Runner) evaluate(ctx context.Context, builder *evaluation.ReportBuilder, scene config.Scene, pred *raster.Surface) []evaluation.Reference {
	defer r.tracker.Start(StageEvaluate)()
	refs := r.loadReferences(builder, scene, pred.Grid())
	r.harness.EvaluateInto(ctx, builder, scene.ID,
		evaluation.Prediction{Surface: pred, Semantics: evaluation.ContinuousSemantics()},
		refs, r.evalSet)
	return refs
}

// MonteCarlo computes the Monte Carlo water probability of a band stack and
// writes it to outPath.
func (r *Runner) MonteCarlo(ctx context.Context, bandsPath, outPath string) (*raster.Surface, error) {
	mndwi, _, err := r.indexSurface(bandsPath)
	if err != nil {
		return nil, err
	}
	return r.writeSweep(ctx, mndwi, outPath)
}

// MonteCarloIndex is MonteCarlo for a precomputed single band index raster.
// The raster is clipped to the AOI and resampled like a band stack would be.
// zero_is_nodata does not apply: an index of 0 is a valid sample.
func (r *Runner) MonteCarloIndex(ctx context.Context, indexPath, outPath string) (*raster.Surface, error) {
	idx, err := r.alignIndex(indexPath)
	if err != nil {
		return nil, err
	}
	return r.writeSweep(ctx, idx, outPath)
}

func (r *Runner) alignIndex(path string) (*raster.Surface, error) {
	defer r.tracker.Start(StageAlign)()
	idx, err := rasterio.ReadBand(r.reader, path, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read index raster: %w", err)
	}
	if r.aoi != nil {
		if idx, err = r.aligner.Clip(idx, *r.aoi); err != nil {
			return nil, err
		}
	}
	target, err := align.GridFor(idx, r.cfg.TargetResolution)
	if err != nil {
		return nil, err
	}
	return r.aligner.Warp(idx, target)
}

func (r *Runner) writeSweep(ctx context.Context, idx *raster.Surface, outPath string) (*raster.Surface, error) {
	prob, err := r.sweep(ctx, idx)
	if err != nil {
		return nil, err
	}
	defer r.tracker.Start(StageWrite)()
	if err := r.writer.WriteProbability(outPath, prob); err != nil {
		return nil, err
	}
	return prob, nil
}

// EvaluateScene scores an existing prediction raster against the references
// of scene, on the grid of the prediction.
func (r *Runner) EvaluateScene(ctx context.Context, scene config.Scene, predictionPath string) (Result, error) {
	builder := evaluation.NewReportBuilder()
	pred, err := rasterio.ReadBand(r.reader, predictionPath, 1)
	if err != nil {
		r.skipScene(builder, scene.ID, err)
		rep, skipped := builder.Build()
		return Result{Report: rep, Skipped: skipped}, err
	}

	r.evaluate(ctx, builder, scene, pred)
	rep, skipped := builder.Build()
	r.countEntries(rep, skipped)
	return Result{Report: rep, Skipped: skipped}, ctx.Err()
}

// indexSurface reads the green and SWIR bands, puts them on the working grid
// and computes MNDWI.
func (r *Runner) indexSurface(bandsPath string) (*raster.Surface, raster.Grid, error) {
	green, swir, target, err := r.alignBands(bandsPath)
	if err != nil {
		return nil, raster.Grid{}, err
	}
	defer r.tracker.Start(StageIndex)()
	mndwi, err := index.MNDWI(green, swir)
	if err != nil {
		return nil, raster.Grid{}, err
	}
	return mndwi, target, nil
}

// alignBands masks band fill before any clipping or resampling.
func (r *Runner) alignBands(bandsPath string) (green, swir *raster.Surface, target raster.Grid, err error) {
	defer r.tracker.Start(StageAlign)()
	bands, err := r.reader.ReadBands(bandsPath, r.cfg.GreenBand, r.cfg.SwirBand)
	if err != nil {
		return nil, nil, target, fmt.Errorf("failed to read bands: %w", err)
	}
	green, swir = r.bandPolicy.Apply(bands[0]), r.bandPolicy.Apply(bands[1])
	if r.aoi != nil {
		if green, err = r.aligner.Clip(green, *r.aoi); err != nil {
			return nil, nil, target, err
		}
	}
	if target, err = align.GridFor(green, r.cfg.TargetResolution); err != nil {
		return nil, nil, target, err
	}
	if green, err = r.aligner.Warp(green, target); err != nil {
		return nil, nil, target, err
	}
	if swir, err = r.aligner.Align(swir, r.aoi, target); err != nil {
		return nil, nil, target, err
	}
	return green, swir, target, nil
}

func (r *Runner) sweep(ctx context.Context, mndwi *raster.Surface) (*raster.Surface, error) {
	stop := r.tracker.Start(StageMonteCarlo)
	defer stop()
	prob, err := r.thresholder.ProbabilitySurface(ctx, mndwi)
	if err != nil {
		return nil, err
	}
	r.metrics.PixelsProcessed.Add(float64(mndwi.Len()))
	return prob, nil
}

// loadReferences reads and aligns every reference of a scene. A reference that
// cannot be loaded is recorded as skipped for every threshold; the others
// are still evaluated.
func (r *Runner) loadReferences(builder *evaluation.ReportBuilder, scene config.Scene, target raster.Grid) []evaluation.Reference {
	refs := make([]evaluation.Reference, 0, len(scene.References))
	for _, refCfg := range scene.References {
		ref, err := r.loadReference(refCfg, target)
		if err != nil {
			for _, t := range r.evalSet.Values() {
				builder.Skip(evaluation.Skipped{Scene: scene.ID, Threshold: threshold.Key(t), Reference: refCfg.Name, Err: err})
			}
			r.logger.Warning(component, "reference skipped", map[string]interface{}{
				"scene":     scene.ID,
				"reference": refCfg.Name,
				"error":     err.Error(),
			})
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func (r *Runner) loadReference(refCfg config.Reference, target raster.Grid) (evaluation.Reference, error) {
	sem, err := r.cfg.Semantics(refCfg)
	if err != nil {
		return evaluation.Reference{}, err
	}
	method := align.Bilinear
	if sem.Kind == evaluation.Categorical {
		method = align.Nearest
	}

	surface, err := rasterio.ReadBand(r.reader, refCfg.Path, 1)
	if err != nil {
		return evaluation.Reference{}, fmt.Errorf("failed to read reference %s: %w", refCfg.Name, err)
	}
	if surface, err = r.aligner.AlignWith(surface, r.aoi, target, method); err != nil {
		return evaluation.Reference{}, fmt.Errorf("failed to align reference %s: %w", refCfg.Name, err)
	}

	ref := evaluation.Reference{Name: refCfg.Name, Surface: surface, Semantics: sem}
	if refCfg.ExtentPath != "" {
		extent, err := rasterio.ReadBand(r.reader, refCfg.ExtentPath, 1)
		if err != nil {
			return evaluation.Reference{}, fmt.Errorf("failed to read extent of %s: %w", refCfg.Name, err)
		}
		if ref.Extent, err = r.aligner.AlignWith(extent, r.aoi, target, align.Nearest); err != nil {
			return evaluation.Reference{}, fmt.Errorf("failed to align extent of %s: %w", refCfg.Name, err)
		}
	}
	return ref, nil
}

func (r *Runner) skipScene(builder *evaluation.ReportBuilder, id string, err error) {
	builder.Skip(evaluation.Skipped{Scene: id, Err: err})
	r.metrics.ScenesTotal.WithLabelValues("skipped").Inc()

	fields := map[string]interface{}{"scene": id}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warning(component, "scene cancelled", fields)
		return
	}
	r.logger.Error(component, err, fields)
}

func (r *Runner) countEntries(rep evaluation.Report, skipped []evaluation.Skipped) {
	r.metrics.EntriesTotal.WithLabelValues("evaluated").Add(float64(rep.Len()))
	n := 0
	for _, s := range skipped {
		if s.Threshold != "" {
			n++
		}
	}
	r.metrics.EntriesTotal.WithLabelValues("skipped").Add(float64(n))
}
