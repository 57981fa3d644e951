// Package fusion combines co-registered probability surfaces into one
// ensemble probability and a binary water mask.
package fusion

import (
	"fmt"
	"math"
	"strings"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
)

// Rule names a pointwise combination of probabilities.
type Rule string

const (
	// Max is the optimistic ensemble: a pixel is water if any estimator
	// strongly believes so.
	Max  Rule = "max"
	Mean Rule = "mean"
	Min  Rule = "min"
)

// DefaultDecisionThreshold binarises fused probabilities at 0.5.
const DefaultDecisionThreshold = 0.5

// ParseRule accepts max, mean or min (case-insensitive). An empty string means Max.
func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(strings.TrimSpace(s))) {
	case "", Max:
		return Max, nil
	case Mean:
		return Mean, nil
	case Min:
		return Min, nil
	default:
		return "", fmt.Errorf("unknown fusion rule %q (want max, mean or min): %w", s, raster.ErrInvalidParameter)
	}
}

func (r Rule) combine(vals []float64) float64 {
	switch r {
	case Mean:
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	case Min:
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m
	default:
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m
	}
}

// Fuse combines surfaces with rule and binarises the result at
// fused >= decisionThreshold. A pixel invalid (NaN) in any input is invalid in
// both outputs. Inputs are never modified.
func Fuse(surfaces []*raster.Surface, rule Rule, decisionThreshold float64) (prob, mask *raster.Surface, err error) {
	if len(surfaces) == 0 {
		return nil, nil, fmt.Errorf("nothing to fuse: %w", raster.ErrMissingInput)
	}
	if _, err := ParseRule(string(rule)); err != nil {
		return nil, nil, err
	}
	if math.IsNaN(decisionThreshold) || decisionThreshold < 0 || decisionThreshold > 1 {
		return nil, nil, fmt.Errorf("decision threshold %g outside [0, 1]: %w", decisionThreshold, raster.ErrInvalidParameter)
	}
	if err := raster.SameGrid(surfaces...); err != nil {
		return nil, nil, fmt.Errorf("failed to fuse surfaces: %w", err)
	}
	for i, s := range surfaces {
		if err := raster.CheckProbability(s); err != nil {
			return nil, nil, fmt.Errorf("surface %d is not a probability surface: %w", i, err)
		}
	}

	n := surfaces[0].Len()
	fused := make([]float64, n)
	vals := make([]float64, len(surfaces))
	for i := 0; i < n; i++ {
		invalid := false
		for k, s := range surfaces {
			v := s.AtIndex(i)
			if math.IsNaN(v) {
				invalid = true
				break
			}
			vals[k] = v
		}
		if invalid {
			fused[i] = math.NaN()
			continue
		}
		fused[i] = rule.combine(vals)
	}

	if prob, err = raster.Wrap(surfaces[0].Grid(), fused); err != nil {
		return nil, nil, err
	}
	return prob, Binarize(prob, decisionThreshold), nil
}

// Binarize thresholds a probability surface at p >= cutoff, keeping NaN.
func Binarize(prob *raster.Surface, cutoff float64) *raster.Surface {
	return prob.Map(func(v float64) float64 {
		switch {
		case math.IsNaN(v):
			return math.NaN()
		case v >= cutoff:
			return 1
		default:
			return 0
		}
	})
}
