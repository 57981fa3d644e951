// Package threshold holds ordered, immutable sets of decision cutoffs used
// both by the Monte Carlo sweep and by evaluation sweeps.
package threshold

import (
	"fmt"
	"math"
	"strconv"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"gonum.org/v1/gonum/floats"
)

// Set is an ordered sequence of thresholds. The zero value is empty.
type Set struct {
	values []float64
}

// Linspace returns n thresholds evenly spaced over [min, max], both ends included.
func Linspace(min, max float64, n int) (Set, error) {
	if n < 2 {
		return Set{}, fmt.Errorf("sample count %d must be at least 2: %w", n, raster.ErrInvalidParameter)
	}
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return Set{}, fmt.Errorf("threshold bounds [%g, %g] must be finite: %w", min, max, raster.ErrInvalidParameter)
	}
	if min > max {
		return Set{}, fmt.Errorf("threshold min %g exceeds max %g: %w", min, max, raster.ErrInvalidParameter)
	}
	return Set{values: floats.Span(make([]float64, n), min, max)}, nil
}

// Discrete returns a set holding the given thresholds in the given order.
func Discrete(values ...float64) (Set, error) {
	if len(values) == 0 {
		return Set{}, fmt.Errorf("empty threshold set: %w", raster.ErrInvalidParameter)
	}
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Set{}, fmt.Errorf("threshold %g is not finite: %w", v, raster.ErrInvalidParameter)
		}
		if _, dup := seen[v]; dup {
			return Set{}, fmt.Errorf("duplicate threshold %g: %w", v, raster.ErrInvalidParameter)
		}
		seen[v] = struct{}{}
	}
	cp := make([]float64, len(values))
	copy(cp, values)
	return Set{values: cp}, nil
}

func (s Set) Len() int         { return len(s.values) }
func (s Set) At(i int) float64 { return s.values[i] }
func (s Set) Min() float64     { return floats.Min(s.values) }
func (s Set) Max() float64     { return floats.Max(s.values) }

// Values returns a copy of the thresholds.
func (s Set) Values() []float64 {
	cp := make([]float64, len(s.values))
	copy(cp, s.values)
	return cp
}

// Key formats a threshold the way reports index it, e.g. "thr_0.22".
func Key(t float64) string {
	return "thr_" + strconv.FormatFloat(t, 'f', -1, 64)
}
