// Package nodata centralises the definition of an invalid pixel and builds
// the validity masks consumed by fusion and evaluation.
package nodata

import (
	"fmt"
	"math"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
)

// DefaultSentinel is the fill value most of the reference rasters carry.
const DefaultSentinel = -9999.0

// Policy decides which samples are usable.
type Policy struct {
	Sentinels []float64
	// ZeroIsNodata treats exact zeros as fill, as surface reflectance bands do.
	ZeroIsNodata bool
}

// DefaultPolicy flags NaN, infinities and -9999.
func DefaultPolicy() Policy {
	return Policy{Sentinels: []float64{DefaultSentinel}}
}

// IsValid reports whether a single sample is usable under the policy.
func (p Policy) IsValid(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if p.ZeroIsNodata && v == 0 {
		return false
	}
	for _, s := range p.Sentinels {
		if v == s {
			return false
		}
	}
	return true
}

// Valid computes the validity mask of a surface. The declared nodata value of
// the surface, when present, is honoured in addition to the configured sentinels.
func (p Policy) Valid(s *raster.Surface) Mask {
	declared, hasDeclared := s.NoData()
	m := Mask{rows: s.Rows(), cols: s.Cols(), valid: make([]bool, s.Len())}
	for i := range m.valid {
		v := s.AtIndex(i)
		m.valid[i] = p.IsValid(v) && !(hasDeclared && v == declared)
	}
	return m
}

// Apply returns a copy of s with every invalid sample replaced by NaN, so
// downstream stages only need to test for NaN.
func (p Policy) Apply(s *raster.Surface) *raster.Surface {
	declared, hasDeclared := s.NoData()
	return s.Map(func(v float64) float64 {
		if !p.IsValid(v) || (hasDeclared && v == declared) {
			return math.NaN()
		}
		return v
	})
}

// Joint returns the AND of the validity of a and b. The surfaces must share a grid.
func (p Policy) Joint(a, b *raster.Surface) (Mask, error) {
	if err := raster.SameGrid(a, b); err != nil {
		return Mask{}, fmt.Errorf("failed to build joint mask: %w", err)
	}
	return p.Valid(a).And(p.Valid(b))
}

// Mask is a boolean grid, true where a sample is usable.
type Mask struct {
	rows, cols int
	valid      []bool
}

// NewMask builds a mask from a flat row-major slice.
func NewMask(rows, cols int, valid []bool) (Mask, error) {
	if rows*cols != len(valid) {
		return Mask{}, fmt.Errorf("mask length %d does not match %dx%d: %w", len(valid), cols, rows, raster.ErrShapeMismatch)
	}
	cp := make([]bool, len(valid))
	copy(cp, valid)
	return Mask{rows: rows, cols: cols, valid: cp}, nil
}

func (m Mask) Rows() int     { return m.rows }
func (m Mask) Cols() int     { return m.cols }
func (m Mask) Len() int      { return len(m.valid) }
func (m Mask) At(i int) bool { return m.valid[i] }

// And combines two masks of the same shape.
func (m Mask) And(other Mask) (Mask, error) {
	if m.rows != other.rows || m.cols != other.cols {
		return Mask{}, fmt.Errorf("cannot combine %dx%d mask with %dx%d mask: %w",
			m.cols, m.rows, other.cols, other.rows, raster.ErrShapeMismatch)
	}
	out := make([]bool, len(m.valid))
	for i := range out {
		out[i] = m.valid[i] && other.valid[i]
	}
	return Mask{rows: m.rows, cols: m.cols, valid: out}, nil
}

// Count returns the number of valid pixels.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.valid {
		if v {
			n++
		}
	}
	return n
}

// RequireAny returns ErrNoValidPixels when the mask is empty.
func (m Mask) RequireAny() error {
	if m.Count() == 0 {
		return fmt.Errorf("all %d pixels masked: %w", len(m.valid), raster.ErrNoValidPixels)
	}
	return nil
}
