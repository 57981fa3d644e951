// Package evaluation scores binary water maps against one or more reference
// maps over a sweep of thresholds.
package evaluation

import (
	"context"
	"errors"
	"fmt"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/threshold"
)

const component = "Evaluation"

// Prediction is the surface under evaluation.
type Prediction struct {
	Surface   *raster.Surface
	Semantics Semantics
}

// Reference is one ground-truth source.
type Reference struct {
	Name      string
	Surface   *raster.Surface
	Semantics Semantics
	// Extent optionally restricts the comparison to pixels where Extent > 0.
	Extent *raster.Surface
}

// Harness evaluates predictions. It holds no per-call state and is safe for
// concurrent use.
type Harness struct {
	policy nodata.Policy
	logger logger.Logger
}

// NewHarness ignores policy.ZeroIsNodata: zero is a dry sample in
// predictions and references.
func NewHarness(policy nodata.Policy, log logger.Logger) *Harness {
	if log == nil {
		log = logger.Nop{}
	}
	policy.ZeroIsNodata = false
	return &Harness{policy: policy, logger: log}
}

// Evaluate scores one scene and returns a fresh report plus the entries it
// had to skip.
func (h *Harness) Evaluate(ctx context.Context, scene string, pred Prediction, refs []Reference, thresholds threshold.Set) (Report, []Skipped) {
	b := NewReportBuilder()
	h.EvaluateInto(ctx, b, scene, pred, refs, thresholds)
	return b.Build()
}

// EvaluateInto scores one scene into a shared builder. Failures of single
// (threshold, reference) entries are logged and recorded as skipped; the
// remaining entries are still evaluated.
func (h *Harness) EvaluateInto(ctx context.Context, b *ReportBuilder, scene string, pred Prediction, refs []Reference, thresholds threshold.Set) {
	if pred.Surface == nil {
		h.skip(b, Skipped{Scene: scene, Err: fmt.Errorf("prediction surface absent: %w", raster.ErrMissingInput)})
		return
	}
	if thresholds.Len() == 0 {
		h.skip(b, Skipped{Scene: scene, Err: fmt.Errorf("empty evaluation threshold set: %w", raster.ErrInvalidParameter)})
		return
	}

	for _, ref := range refs {
		valid, err := h.jointValidity(pred, ref)
		if err != nil {
			for _, t := range thresholds.Values() {
				h.skip(b, Skipped{Scene: scene, Threshold: threshold.Key(t), Reference: ref.Name, Err: err})
			}
			continue
		}

		for _, t := range thresholds.Values() {
			if err := ctx.Err(); err != nil {
				h.skip(b, Skipped{Scene: scene, Reference: ref.Name, Err: fmt.Errorf("evaluation abandoned: %w", err)})
				return
			}

			key := threshold.Key(t)
			res, err := h.score(pred, ref, valid, t)
			if err != nil {
				h.skip(b, Skipped{Scene: scene, Threshold: key, Reference: ref.Name, Err: err})
				continue
			}
			if err := b.Add(scene, key, ref.Name, res); err != nil {
				h.skip(b, Skipped{Scene: scene, Threshold: key, Reference: ref.Name, Err: err})
				continue
			}
			h.logger.Debug(component, "entry evaluated", map[string]interface{}{
				"scene":     scene,
				"threshold": t,
				"reference": ref.Name,
				"f1":        res.F1,
				"pixels":    res.ValidPixels,
			})
		}
	}
}

// jointValidity is computed from the raw surfaces, before binarisation, so
// sentinel values cannot masquerade as dry pixels.
func (h *Harness) jointValidity(pred Prediction, ref Reference) (nodata.Mask, error) {
	if ref.Surface == nil {
		return nodata.Mask{}, fmt.Errorf("reference %q absent: %w", ref.Name, raster.ErrMissingInput)
	}
	valid, err := h.policy.Joint(pred.Surface, ref.Surface)
	if err != nil {
		return nodata.Mask{}, err
	}
	if ref.Extent != nil {
		if err := raster.SameGrid(pred.Surface, ref.Extent); err != nil {
			return nodata.Mask{}, fmt.Errorf("extent for %q: %w", ref.Name, err)
		}
		inside := make([]bool, ref.Extent.Len())
		for i := range inside {
			v := ref.Extent.AtIndex(i)
			inside[i] = h.policy.IsValid(v) && v > 0
		}
		extent, err := nodata.NewMask(ref.Extent.Rows(), ref.Extent.Cols(), inside)
		if err != nil {
			return nodata.Mask{}, err
		}
		if valid, err = valid.And(extent); err != nil {
			return nodata.Mask{}, err
		}
	}
	if err := valid.RequireAny(); err != nil {
		return nodata.Mask{}, err
	}
	return valid, nil
}

func (h *Harness) score(pred Prediction, ref Reference, valid nodata.Mask, t float64) (Result, error) {
	p := pred.Semantics.BinarizeSurface(pred.Surface, t)
	r := ref.Semantics.BinarizeSurface(ref.Surface, t)
	m, err := Confusion(p, r, valid)
	if err != nil {
		return Result{}, err
	}
	return Metrics(m), nil
}

func (h *Harness) skip(b *ReportBuilder, s Skipped) {
	b.Skip(s)
	h.logger.Warning(component, "evaluation entry skipped", map[string]interface{}{
		"scene":     s.Scene,
		"threshold": s.Threshold,
		"reference": s.Reference,
		"reason":    errorReason(s.Err),
	})
}

func errorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, raster.ErrNoValidPixels):
		return "no_valid_pixels"
	case errors.Is(err, raster.ErrMissingInput):
		return "missing_input"
	case errors.Is(err, raster.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
