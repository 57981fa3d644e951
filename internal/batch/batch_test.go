package batch

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/config"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testGrid = raster.Grid{Rows: 2, Cols: 4, Transform: raster.NorthUp(0, 2, 1, -1)}

type memReader struct {
	files map[string][]*raster.Surface
}

func (m *memReader) ReadBands(path string, bands ...int) ([]*raster.Surface, error) {
	stack, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("raster %s: %w", path, raster.ErrMissingInput)
	}
	if len(bands) == 0 {
		bands = []int{1}
	}
	out := make([]*raster.Surface, 0, len(bands))
	for _, b := range bands {
		if b < 1 || b > len(stack) {
			return nil, fmt.Errorf("band %d: %w", b, raster.ErrMissingInput)
		}
		out = append(out, stack[b-1])
	}
	return out, nil
}

type memWriter struct {
	mu    sync.Mutex
	files map[string]*raster.Surface
}

func (w *memWriter) WriteProbability(path string, s *raster.Surface) error {
	return w.store(path, s)
}

func (w *memWriter) WriteMask(path string, s *raster.Surface) error {
	if err := raster.CheckBinary(s); err != nil {
		return err
	}
	return w.store(path, s)
}

func (w *memWriter) store(path string, s *raster.Surface) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = s
	return nil
}

func surface(t *testing.T, data ...float64) *raster.Surface {
	t.Helper()
	s, err := raster.New(testGrid, data)
	require.NoError(t, err)
	return s
}

// fixture builds a six band stack whose MNDWI (green band 3, SWIR band 6) is
//
//	0.667 0.5 0 0.333
//	0     0   0.667 0.5
func fixture(t *testing.T) *memReader {
	t.Helper()
	filler := surface(t, 0, 0, 0, 0, 0, 0, 0, 0)
	green := surface(t, 0.5, 0.3, 0.1, 0.2, 0.1, 0.1, 0.5, 0.3)
	swir := surface(t, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1)
	return &memReader{files: map[string][]*raster.Surface{
		"wf2020.tif":      {filler, filler, green, filler, filler, swir},
		"wf2020_prob.tif": {surface(t, 0.1, 0.2, 0.9, 0.3, 0.0, 0.6, 0.2, 0.1)},
		"sen2.tif":        {surface(t, 1, 1, 1, 0, 0, 1, 1, 1)},
		"iso.tif":         {surface(t, 1, 1, 2, 1, 2, 2, 1, -9999)},
	}}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.NSamples = 5
	cfg.Workers = 2
	cfg.SceneWorkers = 2
	cfg.OutputDir = "out"
	cfg.Scenes = []config.Scene{
		{
			ID:               "WF2020",
			Bands:            "wf2020.tif",
			ModelProbability: "wf2020_prob.tif",
			References: []config.Reference{
				{Name: "sen2", Path: "sen2.tif", Semantics: "continuous"},
				{Name: "iso", Path: "iso.tif"},
				{Name: "gone", Path: "gone.tif"},
			},
		},
		{ID: "NOMODEL", Bands: "wf2020.tif"},
		{ID: "MISSING", Bands: "wf2020.tif", ModelProbability: "absent.tif"},
	}
	return cfg
}

func TestRunProcessesScenesAndRecordsSkips(t *testing.T) {
	writer := &memWriter{files: map[string]*raster.Surface{}}
	metrics := telemetry.NewMetrics()
	runner, err := New(testConfig(t), Deps{Reader: fixture(t), Writer: writer, Logger: logger.Nop{}, Metrics: metrics})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	// Five evaluation thresholds for each of the two loadable references.
	assert.Equal(t, 10, res.Report.Len())
	assert.Equal(t, []string{"WF2020"}, res.Report.Scenes())

	require.Contains(t, res.Outputs, "WF2020")
	out := res.Outputs["WF2020"]
	assert.Equal(t, "out/WF2020_ensemble_prob.tif", out.Probability)
	assert.Equal(t, "out/WF2020_ensemble_mask.tif", out.Mask)

	// max(mc, model) with mc = [1 1 0 0.6 / 0 0 1 1].
	prob := writer.files[out.Probability]
	require.NotNil(t, prob)
	assert.InDeltaSlice(t, []float64{1, 1, 0.9, 0.6, 0, 0.6, 1, 1}, prob.Values(), 1e-9)
	assert.Equal(t, []float64{1, 1, 1, 1, 0, 1, 1, 1}, writer.files[out.Mask].Values())

	sceneSkips := map[string]error{}
	entrySkips := 0
	for _, s := range res.Skipped {
		if s.Threshold == "" {
			sceneSkips[s.Scene] = s.Err
			continue
		}
		assert.Equal(t, "gone", s.Reference)
		entrySkips++
	}
	assert.Equal(t, 5, entrySkips)
	require.Len(t, sceneSkips, 2)
	assert.ErrorIs(t, sceneSkips["NOMODEL"], raster.ErrMissingInput)
	assert.ErrorIs(t, sceneSkips["MISSING"], raster.ErrMissingInput)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ScenesTotal.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ScenesTotal.WithLabelValues("skipped")))
	assert.Equal(t, 10.0, testutil.ToFloat64(metrics.EntriesTotal.WithLabelValues("evaluated")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.EntriesTotal.WithLabelValues("skipped")))
	assert.Len(t, runner.Tracker().Timings(StageMonteCarlo), 1)
}

func TestRunEvaluatesAgainstReferences(t *testing.T) {
	writer := &memWriter{files: map[string]*raster.Surface{}}
	runner, err := New(testConfig(t), Deps{Reader: fixture(t), Writer: writer})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	// At 0.4 the fused map is 1 1 1 1 / 0 1 1 1 and sen2 is 1 1 1 0 / 0 1 1 1.
	sen2, ok := res.Report.Lookup("WF2020", "thr_0.4", "sen2")
	require.True(t, ok)
	assert.Equal(t, int64(6), sen2.Confusion.TP())
	assert.Equal(t, int64(1), sen2.Confusion.FP())
	assert.Equal(t, int64(1), sen2.Confusion.TN())
	assert.Equal(t, int64(0), sen2.Confusion.FN())

	// iso is categorical (code 1) and its last pixel is nodata.
	iso, ok := res.Report.Lookup("WF2020", "thr_0.9", "iso")
	require.True(t, ok)
	assert.Equal(t, 7, iso.ValidPixels)
	// Prediction at 0.9: 1 1 1 0 / 0 0 1 1(masked); iso: 1 1 0 1 / 0 0 1 -.
	assert.Equal(t, int64(3), iso.Confusion.TP())
	assert.Equal(t, int64(1), iso.Confusion.FP())
	assert.Equal(t, int64(1), iso.Confusion.FN())
	assert.Equal(t, int64(2), iso.Confusion.TN())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, err := New(testConfig(t), Deps{Reader: fixture(t), Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)

	res, err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Report.Len())
	assert.Len(t, res.Skipped, 3)
	for _, s := range res.Skipped {
		assert.ErrorIs(t, s.Err, context.Canceled)
	}
}

func TestRunRejectsNonProbabilityModel(t *testing.T) {
	reader := fixture(t)
	reader.files["wf2020_prob.tif"] = []*raster.Surface{surface(t, 0, 0, 0, 0, 0, 0, 0, 2)}
	cfg := testConfig(t)
	cfg.Scenes = cfg.Scenes[:1]

	runner, err := New(cfg, Deps{Reader: reader, Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0].Err, raster.ErrInvalidParameter)
	assert.Empty(t, res.Outputs)

	// The failing fusion is still timed; nothing after it ran.
	assert.Len(t, runner.Tracker().Timings(StageFusion), 1)
	assert.Empty(t, runner.Tracker().Timings(StageWrite))
}

func TestRunTimesFailedAlignment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scenes = cfg.Scenes[2:]
	runner, err := New(cfg, Deps{Reader: fixture(t), Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.ErrorIs(t, res.Skipped[0].Err, raster.ErrMissingInput)
	// Band alignment plus the model read that failed.
	assert.Len(t, runner.Tracker().Timings(StageAlign), 2)
}

func TestZeroIsNodataOnlyMasksBandFill(t *testing.T) {
	reader := fixture(t)
	stack := reader.files["wf2020.tif"]
	green := surface(t, 0, 0.3, 0.1, 0.2, 0.1, 0.1, 0.5, 0.3)
	reader.files["wf2020.tif"] = []*raster.Surface{stack[0], stack[1], green, stack[3], stack[4], stack[5]}

	cfg := testConfig(t)
	cfg.ZeroIsNodata = true
	cfg.Scenes = cfg.Scenes[:1]
	writer := &memWriter{files: map[string]*raster.Surface{}}
	runner, err := New(cfg, Deps{Reader: reader, Writer: writer})
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	// Only the zero green sample is fill; the zero model probability at
	// (1, 0) still fuses to a dry pixel.
	prob := writer.files["out/WF2020_ensemble_prob.tif"]
	require.NotNil(t, prob)
	assert.True(t, math.IsNaN(prob.At(0, 0)))
	assert.InDeltaSlice(t, []float64{1, 0.9, 0.6, 0, 0.6, 1, 1}, prob.Values()[1:], 1e-9)

	// sen2 zeros are dry reference samples, not nodata.
	sen2, ok := res.Report.Lookup("WF2020", "thr_0.4", "sen2")
	require.True(t, ok)
	assert.Equal(t, 7, sen2.ValidPixels)
	assert.Equal(t, int64(5), sen2.Confusion.TP())
	assert.Equal(t, int64(1), sen2.Confusion.FP())
	assert.Equal(t, int64(1), sen2.Confusion.TN())
	assert.Equal(t, int64(0), sen2.Confusion.FN())
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig(t)
	cfg.FusionRule = "median"
	_, err := New(cfg, Deps{Reader: fixture(t), Writer: &memWriter{}})
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)

	_, err = New(testConfig(t), Deps{})
	assert.ErrorIs(t, err, raster.ErrMissingInput)
}

func TestMonteCarloWritesProbability(t *testing.T) {
	writer := &memWriter{files: map[string]*raster.Surface{}}
	runner, err := New(testConfig(t), Deps{Reader: fixture(t), Writer: writer})
	require.NoError(t, err)

	prob, err := runner.MonteCarlo(context.Background(), "wf2020.tif", "mc.tif")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1, 0, 0.6, 0, 0, 1, 1}, prob.Values(), 1e-9)
	assert.Same(t, prob, writer.files["mc.tif"])

	_, err = runner.MonteCarlo(context.Background(), "absent.tif", "mc.tif")
	assert.ErrorIs(t, err, raster.ErrMissingInput)
}

func TestEvaluateSceneScoresExistingPrediction(t *testing.T) {
	reader := fixture(t)
	reader.files["pred.tif"] = []*raster.Surface{surface(t, 1, 1, 0.9, 0.6, 0, 0.6, 1, 1)}
	runner, err := New(testConfig(t), Deps{Reader: reader, Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)

	scene := testConfig(t).Scenes[0]
	res, err := runner.EvaluateScene(context.Background(), scene, "pred.tif")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Report.Len())
	assert.Len(t, res.Skipped, 5)

	sen2, ok := res.Report.Lookup("WF2020", "thr_0.4", "sen2")
	require.True(t, ok)
	assert.Equal(t, int64(6), sen2.Confusion.TP())
	assert.Equal(t, int64(1), sen2.Confusion.FP())

	res, err = runner.EvaluateScene(context.Background(), scene, "absent.tif")
	assert.ErrorIs(t, err, raster.ErrMissingInput)
	assert.Zero(t, res.Report.Len())
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "WF2020", res.Skipped[0].Scene)
}

func TestMonteCarloIndexSweepsPrecomputedIndex(t *testing.T) {
	reader := fixture(t)
	reader.files["mndwi.tif"] = []*raster.Surface{surface(t, 0.5, 0.32, 0.1, 0.21, 0.27, 0.45, 0.37, 0.9)}
	writer := &memWriter{files: map[string]*raster.Surface{}}
	runner, err := New(testConfig(t), Deps{Reader: reader, Writer: writer})
	require.NoError(t, err)

	prob, err := runner.MonteCarloIndex(context.Background(), "mndwi.tif", "mc.tif")
	require.NoError(t, err)
	// Thresholds 0.2 0.25 0.3 0.35 0.4.
	assert.InDeltaSlice(t, []float64{1, 0.6, 0, 0.2, 0.4, 1, 0.8, 1}, prob.Values(), 1e-9)
	assert.Same(t, prob, writer.files["mc.tif"])
}

func TestGeoJSONAOIRequiresRasterReferenceSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,2],[0,2],[0,0]]]}`), 0o644))

	cfg := testConfig(t)
	cfg.AOI = path
	runner, err := New(cfg, Deps{Reader: fixture(t), Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)
	require.NotNil(t, runner.aoi.SR)

	// The fixture rasters carry no CRS, so a lon/lat polygon cannot clip them.
	_, err = runner.MonteCarlo(context.Background(), "wf2020.tif", "mc.tif")
	assert.ErrorIs(t, err, raster.ErrGeometryMismatch)
	assert.Len(t, runner.Tracker().Timings(StageAlign), 1)
}

func TestAOICRSOverridesFileReferenceSystem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aoi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,2],[0,2],[0,0]]]}`), 0o644))

	cfg := testConfig(t)
	cfg.AOI = path
	cfg.AOICRS = "+proj=utm +zone=36 +datum=WGS84 +units=m +no_defs"
	runner, err := New(cfg, Deps{Reader: fixture(t), Writer: &memWriter{files: map[string]*raster.Surface{}}})
	require.NoError(t, err)
	require.NotNil(t, runner.aoi.SR)

	cfg.AOICRS = "EPSG:none"
	_, err = New(cfg, Deps{Reader: fixture(t), Writer: &memWriter{}})
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)
}
