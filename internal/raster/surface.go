package raster

import (
	"fmt"
	"math"
	"strings"
)

// Grid describes the pixel lattice a surface lives on.
type Grid struct {
	Rows      int
	Cols      int
	Transform GeoTransform
	CRS       string
}

// Len returns the number of pixels in the grid.
func (g Grid) Len() int {
	return g.Rows * g.Cols
}

// Bounds returns the world-space envelope of the grid.
func (g Grid) Bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{
		{0, 0}, {float64(g.Cols), 0}, {0, float64(g.Rows)}, {float64(g.Cols), float64(g.Rows)},
	} {
		x, y := g.Transform.Apply(corner[0], corner[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}

// Equal reports whether two grids share shape, transform and reference system.
func (g Grid) Equal(other Grid) bool {
	if g.Rows != other.Rows || g.Cols != other.Cols {
		return false
	}
	if !SameCRS(g.CRS, other.CRS) {
		return false
	}
	for i := range g.Transform {
		if !approxEqual(g.Transform[i], other.Transform[i]) {
			return false
		}
	}
	return true
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d %s", g.Cols, g.Rows, g.Transform)
}

// Surface is an immutable two dimensional raster of float64 samples stored
// row-major. Invalid samples are NaN once a nodata policy has been applied.
type Surface struct {
	grid      Grid
	data      []float64
	noData    float64
	hasNoData bool
}

// New copies data into a surface on the given grid.
func New(grid Grid, data []float64) (*Surface, error) {
	if grid.Rows <= 0 || grid.Cols <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d: %w", grid.Cols, grid.Rows, ErrInvalidParameter)
	}
	if len(data) != grid.Len() {
		return nil, fmt.Errorf("data length %d does not match %dx%d grid: %w",
			len(data), grid.Cols, grid.Rows, ErrShapeMismatch)
	}
	cp := make([]float64, len(data))
	copy(cp, data)
	return &Surface{grid: grid, data: cp}, nil
}

// Wrap builds a surface that takes ownership of data. The caller must not
// modify the slice afterwards.
func Wrap(grid Grid, data []float64) (*Surface, error) {
	if grid.Rows <= 0 || grid.Cols <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d: %w", grid.Cols, grid.Rows, ErrInvalidParameter)
	}
	if len(data) != grid.Len() {
		return nil, fmt.Errorf("data length %d does not match %dx%d grid: %w",
			len(data), grid.Cols, grid.Rows, ErrShapeMismatch)
	}
	return &Surface{grid: grid, data: data}, nil
}

// FromRows builds an ungeoreferenced surface from a rectangular literal.
// Mostly useful for small fixtures.
func FromRows(rows [][]float64) (*Surface, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty rows: %w", ErrInvalidParameter)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d has %d columns, want %d: %w", i, len(r), cols, ErrShapeMismatch)
		}
		data = append(data, r...)
	}
	return Wrap(Grid{Rows: len(rows), Cols: cols, Transform: Identity()}, data)
}

// Filled returns a surface with every sample set to v.
func Filled(grid Grid, v float64) (*Surface, error) {
	data := make([]float64, grid.Len())
	for i := range data {
		data[i] = v
	}
	return Wrap(grid, data)
}

func (s *Surface) Grid() Grid              { return s.grid }
func (s *Surface) Rows() int               { return s.grid.Rows }
func (s *Surface) Cols() int               { return s.grid.Cols }
func (s *Surface) Len() int                { return len(s.data) }
func (s *Surface) Transform() GeoTransform { return s.grid.Transform }
func (s *Surface) CRS() string             { return s.grid.CRS }

// At returns the sample at (row, col).
func (s *Surface) At(row, col int) float64 {
	return s.data[row*s.grid.Cols+col]
}

// AtIndex returns the sample at a flat row-major index.
func (s *Surface) AtIndex(i int) float64 {
	return s.data[i]
}

// Values returns a copy of the samples.
func (s *Surface) Values() []float64 {
	cp := make([]float64, len(s.data))
	copy(cp, s.data)
	return cp
}

// NoData returns the sentinel declared by the source raster, if any.
func (s *Surface) NoData() (float64, bool) {
	return s.noData, s.hasNoData
}

// WithNoData returns a copy that records v as the declared nodata sentinel.
func (s *Surface) WithNoData(v float64) *Surface {
	out := s.Clone()
	out.noData = v
	out.hasNoData = true
	return out
}

// Clone returns a deep copy.
func (s *Surface) Clone() *Surface {
	return &Surface{
		grid:      s.grid,
		data:      s.Values(),
		noData:    s.noData,
		hasNoData: s.hasNoData,
	}
}

// Map applies fn to every sample and returns the result on the same grid.
func (s *Surface) Map(fn func(v float64) float64) *Surface {
	out := make([]float64, len(s.data))
	for i, v := range s.data {
		out[i] = fn(v)
	}
	return &Surface{grid: s.grid, data: out, noData: s.noData, hasNoData: s.hasNoData}
}

// SameGrid returns ErrShapeMismatch unless every surface shares the grid of the first.
func SameGrid(surfaces ...*Surface) error {
	if len(surfaces) == 0 {
		return nil
	}
	ref := surfaces[0]
	if ref == nil {
		return fmt.Errorf("surface 0 is nil: %w", ErrMissingInput)
	}
	for i, s := range surfaces[1:] {
		if s == nil {
			return fmt.Errorf("surface %d is nil: %w", i+1, ErrMissingInput)
		}
		if s.grid.Rows != ref.grid.Rows || s.grid.Cols != ref.grid.Cols {
			return fmt.Errorf("surface %d is %dx%d, want %dx%d: %w",
				i+1, s.grid.Cols, s.grid.Rows, ref.grid.Cols, ref.grid.Rows, ErrShapeMismatch)
		}
		if !s.grid.Equal(ref.grid) {
			return fmt.Errorf("surface %d is not co-registered with surface 0 (%s vs %s): %w",
				i+1, s.grid.Transform, ref.grid.Transform, ErrShapeMismatch)
		}
	}
	return nil
}

// CheckProbability verifies every finite sample lies in [0, 1].
func CheckProbability(s *Surface) error {
	for i, v := range s.data {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("probability %g at pixel %d outside [0, 1]: %w", v, i, ErrInvalidParameter)
		}
	}
	return nil
}

// CheckBinary verifies every finite sample is 0 or 1.
func CheckBinary(s *Surface) error {
	for i, v := range s.data {
		if math.IsNaN(v) {
			continue
		}
		if v != 0 && v != 1 {
			return fmt.Errorf("mask value %g at pixel %d is not binary: %w", v, i, ErrInvalidParameter)
		}
	}
	return nil
}

// SameCRS compares two reference system definitions textually.
func SameCRS(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

func approxEqual(a, b float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= 1e-9*scale
}
