package evaluation

import (
	"fmt"
	"math"
	"strings"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
)

// Kind says how a surface turns into a wet/dry map.
type Kind int

const (
	// Continuous surfaces (index values, probabilities) are wet where value >= threshold.
	Continuous Kind = iota
	// Categorical surfaces are wet where value equals the water class code,
	// whatever the threshold.
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Semantics pairs a Kind with the class code used for categorical surfaces.
type Semantics struct {
	Kind      Kind
	WaterCode float64
}

// ContinuousSemantics binarises with the inclusive >= rule.
func ContinuousSemantics() Semantics {
	return Semantics{Kind: Continuous}
}

// CategoricalSemantics binarises by equality with code.
func CategoricalSemantics(code float64) Semantics {
	return Semantics{Kind: Categorical, WaterCode: code}
}

// ParseSemantics reads "continuous" or "categorical".
func ParseSemantics(kind string, waterCode float64) (Semantics, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "continuous":
		return ContinuousSemantics(), nil
	case "categorical":
		return CategoricalSemantics(waterCode), nil
	default:
		return Semantics{}, fmt.Errorf("unknown reference semantics %q: %w", kind, raster.ErrInvalidParameter)
	}
}

// Binarize maps one sample to 1 (wet), 0 (dry) or NaN (invalid).
func (s Semantics) Binarize(v, threshold float64) float64 {
	if math.IsNaN(v) {
		return math.NaN()
	}
	if s.Kind == Categorical {
		if v == s.WaterCode {
			return 1
		}
		return 0
	}
	if v >= threshold {
		return 1
	}
	return 0
}

// BinarizeSurface applies Binarize to every pixel.
func (s Semantics) BinarizeSurface(surface *raster.Surface, threshold float64) *raster.Surface {
	return surface.Map(func(v float64) float64 { return s.Binarize(v, threshold) })
}
