// Package index computes normalized-difference spectral indices.
package index

import (
	"fmt"
	"math"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
)

// NormalizedDifference computes (a - b) / (a + b) per pixel. A zero
// denominator yields 0, never NaN or Inf. A pixel that is invalid in either
// band stays invalid (NaN) in the result.
func NormalizedDifference(a, b *raster.Surface) (*raster.Surface, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("normalized difference needs two bands: %w", raster.ErrMissingInput)
	}
	if err := raster.SameGrid(a, b); err != nil {
		return nil, fmt.Errorf("failed to compute normalized difference: %w", err)
	}

	out := make([]float64, a.Len())
	for i := range out {
		va, vb := a.AtIndex(i), b.AtIndex(i)
		if !finite(va) || !finite(vb) {
			out[i] = math.NaN()
			continue
		}
		den := va + vb
		if den == 0 {
			out[i] = 0
			continue
		}
		out[i] = (va - vb) / den
	}
	return raster.Wrap(a.Grid(), out)
}

// MNDWI is the modified normalized difference water index (green - swir) / (green + swir).
func MNDWI(green, swir *raster.Surface) (*raster.Surface, error) {
	return NormalizedDifference(green, swir)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
