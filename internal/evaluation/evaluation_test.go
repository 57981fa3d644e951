package evaluation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/threshold"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func surface(t *testing.T, rows [][]float64) *raster.Surface {
	t.Helper()
	s, err := raster.FromRows(rows)
	require.NoError(t, err)
	return s
}

// evaluateOne scores pred against a single reference at one threshold.
func evaluateOne(t *testing.T, h *Harness, pred Prediction, ref Reference, thr float64) Result {
	t.Helper()
	thresholds, err := threshold.Discrete(thr)
	require.NoError(t, err)
	report, skipped := h.Evaluate(context.Background(), "s", pred, []Reference{ref}, thresholds)
	require.Empty(t, skipped)
	res, ok := report.Lookup("s", threshold.Key(thr), ref.Name)
	require.True(t, ok)
	return res
}

func TestEvaluateOneOfEach(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	pred := Prediction{Surface: surface(t, [][]float64{{1, 0}, {0, 1}}), Semantics: ContinuousSemantics()}
	ref := Reference{Name: "ref", Surface: surface(t, [][]float64{{1, 1}, {0, 0}}), Semantics: ContinuousSemantics()}

	res := evaluateOne(t, h, pred, ref, 0.5)

	assert.Equal(t, int64(1), res.Confusion.TP())
	assert.Equal(t, int64(1), res.Confusion.FN())
	assert.Equal(t, int64(1), res.Confusion.TN())
	assert.Equal(t, int64(1), res.Confusion.FP())
	assert.InDelta(t, 0.5, res.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, res.Precision, 1e-12)
	assert.InDelta(t, 0.5, res.Recall, 1e-12)
	assert.InDelta(t, 0.5, res.F1, 1e-12)
	assert.InDelta(t, 1.0/3, res.IoU, 1e-12)
	assert.Equal(t, 4, res.ValidPixels)
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		name string
		m    ConfusionMatrix
		want Result
	}{
		{
			name: "perfect both classes",
			m:    ConfusionMatrix{{3, 0}, {0, 2}},
			want: Result{Accuracy: 1, Precision: 1, Recall: 1, F1: 1, IoU: 1},
		},
		{
			name: "only dry present and correct",
			m:    ConfusionMatrix{{4, 0}, {0, 0}},
			want: Result{Accuracy: 1, Precision: 1, Recall: 1, F1: 1, IoU: 1},
		},
		{
			name: "all wrong",
			m:    ConfusionMatrix{{0, 2}, {2, 0}},
			want: Result{},
		},
		{
			name: "empty",
			m:    ConfusionMatrix{},
			want: Result{},
		},
		{
			// dry: P=3/4 R=1 F1=6/7 IoU=3/4; wet: P=0 R=0 F1=0 IoU=0
			name: "missed the only wet pixel",
			m:    ConfusionMatrix{{3, 0}, {1, 0}},
			want: Result{Accuracy: 0.75, Precision: 0.375, Recall: 0.5, F1: 3.0 / 7, IoU: 0.375},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Metrics(tt.m)
			assert.InDelta(t, tt.want.Accuracy, got.Accuracy, 1e-12)
			assert.InDelta(t, tt.want.Precision, got.Precision, 1e-12)
			assert.InDelta(t, tt.want.Recall, got.Recall, 1e-12)
			assert.InDelta(t, tt.want.F1, got.F1, 1e-12)
			assert.InDelta(t, tt.want.IoU, got.IoU, 1e-12)
			assert.Equal(t, tt.m, got.Confusion)
			assert.Equal(t, int(tt.m.Total()), got.ValidPixels)
		})
	}
}

func TestConfusionConservesValidPixels(t *testing.T) {
	pred := surface(t, [][]float64{{1, 0, 1, 0, 1}, {0, 0, 1, 1, 0}})
	ref := surface(t, [][]float64{{1, 1, -9999, 0, 0}, {0, math.NaN(), 1, 0, 1}})

	valid, err := nodata.DefaultPolicy().Joint(pred, ref)
	require.NoError(t, err)
	m, err := Confusion(pred, ref, valid)
	require.NoError(t, err)
	assert.Equal(t, int64(valid.Count()), m.Total())
	assert.Equal(t, int64(8), m.Total())
}

func TestConfusionRejectsNonBinary(t *testing.T) {
	pred := surface(t, [][]float64{{0.4, 1}})
	ref := surface(t, [][]float64{{1, 1}})
	valid, err := nodata.DefaultPolicy().Joint(pred, ref)
	require.NoError(t, err)

	_, err = Confusion(pred, ref, valid)
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)
}

func TestEvaluateContinuousAndCategorical(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	pred := Prediction{
		Surface:   surface(t, [][]float64{{0.9, 0.1}, {0.3, 0.6}}),
		Semantics: ContinuousSemantics(),
	}
	refs := []Reference{
		{Name: "sen2", Surface: surface(t, [][]float64{{0.8, 0.7}, {0.1, 0.2}}), Semantics: ContinuousSemantics()},
		{Name: "iso", Surface: surface(t, [][]float64{{1, 2}, {2, 1}}), Semantics: CategoricalSemantics(1)},
	}
	thresholds, err := threshold.Discrete(0.5, 0.22)
	require.NoError(t, err)

	report, skipped := h.Evaluate(context.Background(), "WF2020", pred, refs, thresholds)
	assert.Empty(t, skipped)
	assert.Equal(t, 4, report.Len())

	// At 0.5 both sides of sen2 binarise to scenario C.
	res, ok := report.Lookup("WF2020", "thr_0.5", "sen2")
	require.True(t, ok)
	assert.InDelta(t, 0.5, res.Accuracy, 1e-12)

	// The categorical reference is wet at (0,0) and (1,1) whatever the threshold.
	res, ok = report.Lookup("WF2020", "thr_0.5", "iso")
	require.True(t, ok)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-12)

	res, ok = report.Lookup("WF2020", "thr_0.22", "iso")
	require.True(t, ok)
	assert.Equal(t, int64(2), res.Confusion.TP())
	assert.Equal(t, int64(1), res.Confusion.FP())
	assert.Equal(t, int64(1), res.Confusion.TN())
}

func TestEvaluateKeepsZerosUnderBandFillPolicy(t *testing.T) {
	pred := Prediction{Surface: surface(t, [][]float64{{0, 0, 0.9}}), Semantics: ContinuousSemantics()}
	ref := Reference{Name: "iso", Surface: surface(t, [][]float64{{1, 1, 1}}), Semantics: CategoricalSemantics(1)}

	for _, zero := range []bool{false, true} {
		h := NewHarness(nodata.Policy{Sentinels: []float64{-9999}, ZeroIsNodata: zero}, logger.Nop{})
		res := evaluateOne(t, h, pred, ref, 0.5)
		assert.Equal(t, 3, res.ValidPixels, "zero_is_nodata=%v", zero)
		assert.Equal(t, int64(1), res.Confusion.TP())
		assert.Equal(t, int64(2), res.Confusion.FN())
		assert.InDelta(t, 1.0/3, res.Accuracy, 1e-12)
	}

	// A categorical dry code of 0 stays a dry sample too.
	h := NewHarness(nodata.Policy{ZeroIsNodata: true}, logger.Nop{})
	dry := Reference{Name: "iso", Surface: surface(t, [][]float64{{0, 0, 1}}), Semantics: CategoricalSemantics(1)}
	res := evaluateOne(t, h, pred, dry, 0.5)
	assert.Equal(t, 3, res.ValidPixels)
	assert.Equal(t, int64(2), res.Confusion.TN())
}

func TestEvaluateMasksRawSentinels(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	pred := Prediction{Surface: surface(t, [][]float64{{1, 0, 1}}), Semantics: ContinuousSemantics()}
	refs := []Reference{{
		Name:      "ref",
		Surface:   surface(t, [][]float64{{1, -9999, 1}}),
		Semantics: ContinuousSemantics(),
	}}
	thresholds, err := threshold.Discrete(0.5)
	require.NoError(t, err)

	report, skipped := h.Evaluate(context.Background(), "s", pred, refs, thresholds)
	require.Empty(t, skipped)
	res, ok := report.Lookup("s", "thr_0.5", "ref")
	require.True(t, ok)
	assert.Equal(t, 2, res.ValidPixels)
	assert.Equal(t, int64(2), res.Confusion.TP())
}

func TestEvaluateExtentRestrictsComparison(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	pred := Prediction{Surface: surface(t, [][]float64{{1, 1, 0, 0}}), Semantics: ContinuousSemantics()}
	refs := []Reference{{
		Name:      "jrc",
		Surface:   surface(t, [][]float64{{1, 0, 0, 1}}),
		Semantics: ContinuousSemantics(),
		Extent:    surface(t, [][]float64{{1, 0, 1, 0}}),
	}}
	thresholds, err := threshold.Discrete(0.5)
	require.NoError(t, err)

	report, skipped := h.Evaluate(context.Background(), "s", pred, refs, thresholds)
	require.Empty(t, skipped)
	res, ok := report.Lookup("s", "thr_0.5", "jrc")
	require.True(t, ok)
	assert.Equal(t, 2, res.ValidPixels)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-12)
}

func TestEvaluateSkipsFailedEntries(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	pred := Prediction{Surface: surface(t, [][]float64{{1, 0}, {0, 1}}), Semantics: ContinuousSemantics()}
	refs := []Reference{
		{Name: "good", Surface: surface(t, [][]float64{{1, 1}, {0, 0}}), Semantics: ContinuousSemantics()},
		{Name: "empty", Surface: surface(t, [][]float64{{-9999, -9999}, {math.NaN(), -9999}}), Semantics: ContinuousSemantics()},
		{Name: "small", Surface: surface(t, [][]float64{{1}}), Semantics: ContinuousSemantics()},
		{Name: "absent"},
	}
	thresholds, err := threshold.Discrete(0.1, 0.5)
	require.NoError(t, err)

	report, skipped := h.Evaluate(context.Background(), "s", pred, refs, thresholds)
	assert.Equal(t, 2, report.Len())
	require.Len(t, skipped, 6)

	byRef := map[string]error{}
	for _, s := range skipped {
		assert.Equal(t, "s", s.Scene)
		assert.NotEmpty(t, s.Threshold)
		assert.NotEmpty(t, s.Reason)
		byRef[s.Reference] = s.Err
	}
	assert.True(t, errors.Is(byRef["empty"], raster.ErrNoValidPixels))
	assert.True(t, errors.Is(byRef["small"], raster.ErrShapeMismatch))
	assert.True(t, errors.Is(byRef["absent"], raster.ErrMissingInput))
}

func TestEvaluateMissingPrediction(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), nil)
	thresholds, err := threshold.Discrete(0.5)
	require.NoError(t, err)

	report, skipped := h.Evaluate(context.Background(), "s", Prediction{}, nil, thresholds)
	assert.Zero(t, report.Len())
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, raster.ErrMissingInput)
}

func TestEvaluateCancelled(t *testing.T) {
	h := NewHarness(nodata.DefaultPolicy(), logger.Nop{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pred := Prediction{Surface: surface(t, [][]float64{{1, 0}}), Semantics: ContinuousSemantics()}
	refs := []Reference{{Name: "r", Surface: surface(t, [][]float64{{1, 0}}), Semantics: ContinuousSemantics()}}
	thresholds, err := threshold.Discrete(0.5)
	require.NoError(t, err)

	report, skipped := h.Evaluate(ctx, "s", pred, refs, thresholds)
	assert.Zero(t, report.Len())
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0].Err, context.Canceled)
}

func TestReportBuilderConcurrentWrites(t *testing.T) {
	b := NewReportBuilder()
	scenes := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for _, scene := range scenes {
		wg.Add(1)
		go func(scene string) {
			defer wg.Done()
			for _, key := range []string{"thr_0.1", "thr_0.2"} {
				assert.NoError(t, b.Add(scene, key, "ref", Result{Accuracy: 1}))
			}
		}(scene)
	}
	wg.Wait()

	assert.Error(t, b.Add("a", "thr_0.1", "ref", Result{}))
	b.Skip(Skipped{Scene: "b", Err: raster.ErrMissingInput})
	b.Skip(Skipped{Scene: "a", Reason: "explicit"})

	report, skipped := b.Build()
	assert.Equal(t, scenes, report.Scenes())
	assert.Equal(t, 8, report.Len())
	require.Len(t, skipped, 2)
	assert.Equal(t, "a", skipped[0].Scene)
	assert.Equal(t, "explicit", skipped[0].Reason)
	assert.Equal(t, raster.ErrMissingInput.Error(), skipped[1].Reason)
}

func TestParseSemantics(t *testing.T) {
	s, err := ParseSemantics("Categorical", 2)
	require.NoError(t, err)
	assert.Equal(t, CategoricalSemantics(2), s)
	assert.Equal(t, "categorical", s.Kind.String())

	s, err = ParseSemantics("", 0)
	require.NoError(t, err)
	assert.Equal(t, Continuous, s.Kind)

	_, err = ParseSemantics("fuzzy", 0)
	assert.ErrorIs(t, err, raster.ErrInvalidParameter)

	assert.True(t, math.IsNaN(s.Binarize(math.NaN(), 0.5)))
	assert.Equal(t, 1.0, s.Binarize(0.5, 0.5))
	assert.Equal(t, 0.0, s.Binarize(0.49, 0.5))
}
