// Package align clips, reprojects and resamples rasters onto a common grid.
package align

import (
	"fmt"
	"math"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/boundary"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

const component = "Aligner"

// Method selects the resampling kernel.
type Method int

const (
	// Bilinear suits continuous surfaces such as reflectance or probability.
	Bilinear Method = iota
	// Nearest keeps class codes of categorical surfaces intact.
	Nearest
)

func (m Method) String() string {
	if m == Nearest {
		return "nearest"
	}
	return "bilinear"
}

// Aligner brings surfaces onto a target grid. It holds no mutable state.
type Aligner struct {
	logger logger.Logger
}

func New(log logger.Logger) *Aligner {
	if log == nil {
		log = logger.Nop{}
	}
	return &Aligner{logger: log}
}

// Align clips s to aoi (when non-nil) in the native reference system of s and
// then resamples the result onto target with bilinear interpolation.
func (a *Aligner) Align(s *raster.Surface, aoi *boundary.AOI, target raster.Grid) (*raster.Surface, error) {
	return a.AlignWith(s, aoi, target, Bilinear)
}

// AlignWith is Align with an explicit resampling method.
func (a *Aligner) AlignWith(s *raster.Surface, aoi *boundary.AOI, target raster.Grid, method Method) (*raster.Surface, error) {
	if s == nil {
		return nil, fmt.Errorf("nothing to align: %w", raster.ErrMissingInput)
	}
	if aoi != nil {
		clipped, err := a.Clip(s, *aoi)
		if err != nil {
			return nil, err
		}
		s = clipped
	}
	return a.WarpWith(s, target, method)
}

// Clip crops s to the pixel window covering the AOI and sets pixels whose
// centre falls outside the polygon to NaN.
func (a *Aligner) Clip(s *raster.Surface, aoi boundary.AOI) (*raster.Surface, error) {
	if aoi.Polygonal == nil {
		return nil, fmt.Errorf("AOI has no geometry: %w", raster.ErrMissingInput)
	}
	native, err := parseSR(s.CRS())
	if err != nil {
		return nil, err
	}
	poly, err := aoi.In(native)
	if err != nil {
		return nil, err
	}

	inv, ok := s.Transform().Inverse()
	if !ok {
		return nil, fmt.Errorf("singular geotransform %s: %w", s.Transform(), raster.ErrGeometryMismatch)
	}
	c0, r0, c1, r1 := pixelWindow(inv, poly.Bounds(), s.Cols(), s.Rows())
	if c0 >= c1 || r0 >= r1 {
		return nil, fmt.Errorf("AOI does not overlap %s raster: %w", s.Grid(), raster.ErrGeometryMismatch)
	}

	grid := raster.Grid{
		Rows:      r1 - r0,
		Cols:      c1 - c0,
		Transform: s.Transform().Window(c0, r0),
		CRS:       s.CRS(),
	}
	data := make([]float64, grid.Len())
	inside := 0
	for r := 0; r < grid.Rows; r++ {
		for c := 0; c < grid.Cols; c++ {
			x, y := grid.Transform.Apply(float64(c)+0.5, float64(r)+0.5)
			i := r*grid.Cols + c
			if (geom.Point{X: x, Y: y}).Within(poly) == geom.Outside {
				data[i] = math.NaN()
				continue
			}
			data[i] = s.At(r0+r, c0+c)
			inside++
		}
	}
	if inside == 0 {
		return nil, fmt.Errorf("AOI covers no pixel centre of %s raster: %w", s.Grid(), raster.ErrGeometryMismatch)
	}

	out, err := raster.Wrap(grid, data)
	if err != nil {
		return nil, err
	}
	if nd, ok := s.NoData(); ok {
		out = out.WithNoData(nd)
	}
	a.logger.Debug(component, "clipped to AOI", map[string]interface{}{
		"window":  fmt.Sprintf("%d,%d %dx%d", c0, r0, grid.Cols, grid.Rows),
		"covered": inside,
	})
	return out, nil
}

// Warp resamples s onto target. Invalid (NaN) samples never bleed into valid
// output: a target pixel is NaN when any source pixel contributing to it with
// non-zero weight is NaN, or when it maps outside the source.
func (a *Aligner) Warp(s *raster.Surface, target raster.Grid) (*raster.Surface, error) {
	return a.WarpWith(s, target, Bilinear)
}

// WarpWith resamples with an explicit method. Nearest picks the source pixel
// containing each target pixel centre.
func (a *Aligner) WarpWith(s *raster.Surface, target raster.Grid, method Method) (*raster.Surface, error) {
	if target.Rows <= 0 || target.Cols <= 0 {
		return nil, fmt.Errorf("invalid target grid %s: %w", target, raster.ErrInvalidParameter)
	}
	if s.Grid().Equal(target) {
		return s.Clone(), nil
	}

	start := time.Now()
	var (
		out  *raster.Surface
		err  error
		path string
	)
	switch {
	case method == Bilinear && resizable(s.Grid(), target):
		path = "resize"
		out, err = resize(s, target)
	default:
		path = "warp"
		out, err = a.warp(s, target, method)
	}
	if err != nil {
		return nil, err
	}
	if nd, ok := s.NoData(); ok {
		out = out.WithNoData(nd)
	}

	a.logger.Debug(component, "resampled", map[string]interface{}{
		"path":    path,
		"method":  method.String(),
		"from":    s.Grid().String(),
		"to":      target.String(),
		"elapsed": time.Since(start).String(),
	})
	return out, nil
}

// GridFor returns the grid covering the extent of s at the given pixel size.
// A non-positive resolution keeps the grid of s.
func GridFor(s *raster.Surface, resolution float64) (raster.Grid, error) {
	if resolution <= 0 {
		return s.Grid(), nil
	}
	gt := s.Transform()
	if !gt.IsNorthUp() {
		return raster.Grid{}, fmt.Errorf("cannot derive a %g resolution grid from rotated transform %s: %w",
			resolution, gt, raster.ErrInvalidParameter)
	}
	width := math.Abs(gt[1]) * float64(s.Cols())
	height := math.Abs(gt[5]) * float64(s.Rows())
	cols := int(math.Ceil(width/resolution - 1e-9))
	rows := int(math.Ceil(height/resolution - 1e-9))
	if cols < 1 || rows < 1 {
		return raster.Grid{}, fmt.Errorf("resolution %g leaves no pixels: %w", resolution, raster.ErrInvalidParameter)
	}
	return raster.Grid{
		Rows:      rows,
		Cols:      cols,
		Transform: raster.NorthUp(gt[0], gt[3], math.Copysign(resolution, gt[1]), math.Copysign(resolution, gt[5])),
		CRS:       s.CRS(),
	}, nil
}

// resizable reports whether target is src rescaled over the same extent, which
// is exactly what an image resize computes.
func resizable(src, target raster.Grid) bool {
	if !raster.SameCRS(src.CRS, target.CRS) {
		return false
	}
	if !src.Transform.IsNorthUp() || !target.Transform.IsNorthUp() {
		return false
	}
	sx0, sy0, sx1, sy1 := src.Bounds()
	tx0, ty0, tx1, ty1 := target.Bounds()
	tol := 1e-6 * math.Max(math.Abs(src.Transform[1]), math.Abs(src.Transform[5]))
	return math.Abs(sx0-tx0) <= tol && math.Abs(sy0-ty0) <= tol &&
		math.Abs(sx1-tx1) <= tol && math.Abs(sy1-ty1) <= tol &&
		math.Signbit(src.Transform[1]) == math.Signbit(target.Transform[1]) &&
		math.Signbit(src.Transform[5]) == math.Signbit(target.Transform[5])
}

func pixelWindow(inv raster.GeoTransform, b *geom.Bounds, cols, rows int) (c0, r0, c1, r1 int) {
	minC, minR := math.Inf(1), math.Inf(1)
	maxC, maxR := math.Inf(-1), math.Inf(-1)
	for _, p := range [4]geom.Point{
		b.Min, {X: b.Max.X, Y: b.Min.Y}, b.Max, {X: b.Min.X, Y: b.Max.Y},
	} {
		c, r := inv.Apply(p.X, p.Y)
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
	}
	c0 = clampInt(int(math.Floor(minC)), 0, cols)
	c1 = clampInt(int(math.Ceil(maxC)), 0, cols)
	r0 = clampInt(int(math.Floor(minR)), 0, rows)
	r1 = clampInt(int(math.Ceil(maxR)), 0, rows)
	return c0, r0, c1, r1
}

func parseSR(def string) (*proj.SR, error) {
	if def == "" {
		return nil, nil
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference system %q: %w", def, err)
	}
	return sr, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
