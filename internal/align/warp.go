package align

import (
	"fmt"
	"image"
	"math"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/ctessum/geom/proj"
	"gocv.io/x/gocv"
)

// weightEpsilon is the invalid weight above which a resampled pixel is
// considered contaminated by nodata.
const weightEpsilon = 1e-12

// resize runs OpenCV's bilinear resize on the data plane and, separately, on
// a plane that is 1 where the source is invalid. Invalid samples enter the
// data plane as zero; any target pixel that picked up invalid weight is
// reset to NaN afterwards.
func resize(s *raster.Surface, target raster.Grid) (*raster.Surface, error) {
	rows, cols := s.Rows(), s.Cols()
	values := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64FC1)
	defer values.Close()
	invalid := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64FC1)
	defer invalid.Close()
	if values.Empty() || invalid.Empty() {
		return nil, fmt.Errorf("failed to allocate %dx%d matrices", cols, rows)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := s.At(r, c)
			if math.IsNaN(v) {
				values.SetDoubleAt(r, c, 0)
				invalid.SetDoubleAt(r, c, 1)
				continue
			}
			values.SetDoubleAt(r, c, v)
			invalid.SetDoubleAt(r, c, 0)
		}
	}

	size := image.Pt(target.Cols, target.Rows)
	resizedValues := gocv.NewMat()
	defer resizedValues.Close()
	resizedInvalid := gocv.NewMat()
	defer resizedInvalid.Close()
	gocv.Resize(values, &resizedValues, size, 0, 0, gocv.InterpolationLinear)
	gocv.Resize(invalid, &resizedInvalid, size, 0, 0, gocv.InterpolationLinear)
	if resizedValues.Rows() != target.Rows || resizedValues.Cols() != target.Cols {
		return nil, fmt.Errorf("resize produced %dx%d, want %dx%d",
			resizedValues.Cols(), resizedValues.Rows(), target.Cols, target.Rows)
	}

	data := make([]float64, target.Len())
	for r := 0; r < target.Rows; r++ {
		for c := 0; c < target.Cols; c++ {
			i := r*target.Cols + c
			if resizedInvalid.GetDoubleAt(r, c) > weightEpsilon {
				data[i] = math.NaN()
				continue
			}
			data[i] = resizedValues.GetDoubleAt(r, c)
		}
	}
	return raster.Wrap(target, data)
}

// warp maps every target pixel centre back into the source raster, through
// the reference system transform when the two grids differ in CRS, and samples
// it bilinearly using the same centre convention and edge clamping as resize.
func (a *Aligner) warp(s *raster.Surface, target raster.Grid, method Method) (*raster.Surface, error) {
	toSource, err := crsTransform(target.CRS, s.CRS())
	if err != nil {
		return nil, err
	}
	inv, ok := s.Transform().Inverse()
	if !ok {
		return nil, fmt.Errorf("singular geotransform %s: %w", s.Transform(), raster.ErrGeometryMismatch)
	}

	data := make([]float64, target.Len())
	covered := 0
	for r := 0; r < target.Rows; r++ {
		for c := 0; c < target.Cols; c++ {
			i := r*target.Cols + c
			x, y := target.Transform.Apply(float64(c)+0.5, float64(r)+0.5)
			if toSource != nil {
				if x, y, err = toSource(x, y); err != nil {
					data[i] = math.NaN()
					continue
				}
			}
			u, v := inv.Apply(x, y)
			if method == Nearest {
				data[i] = nearest(s, u, v)
			} else {
				data[i] = bilinear(s, u-0.5, v-0.5)
			}
			if !math.IsNaN(data[i]) {
				covered++
			}
		}
	}
	if covered == 0 {
		return nil, fmt.Errorf("target grid %s does not overlap source %s: %w", target, s.Grid(), raster.ErrGeometryMismatch)
	}
	return raster.Wrap(target, data)
}

// bilinear samples s at fractional index coordinates (fx, fy), where integer
// values sit on pixel centres.
func bilinear(s *raster.Surface, fx, fy float64) float64 {
	cols, rows := float64(s.Cols()), float64(s.Rows())
	if fx < -0.5 || fy < -0.5 || fx > cols-0.5 || fy > rows-0.5 || math.IsNaN(fx) || math.IsNaN(fy) {
		return math.NaN()
	}

	x0, wx := split(fx, s.Cols())
	y0, wy := split(fy, s.Rows())
	x1 := min(x0+1, s.Cols()-1)
	y1 := min(y0+1, s.Rows()-1)

	var sum float64
	for _, tap := range [4]struct {
		r, c int
		w    float64
	}{
		{y0, x0, (1 - wx) * (1 - wy)},
		{y0, x1, wx * (1 - wy)},
		{y1, x0, (1 - wx) * wy},
		{y1, x1, wx * wy},
	} {
		if tap.w == 0 {
			continue
		}
		v := s.At(tap.r, tap.c)
		if math.IsNaN(v) {
			return math.NaN()
		}
		sum += tap.w * v
	}
	return sum
}

// nearest samples the pixel containing pixel-space position (u, v).
func nearest(s *raster.Surface, u, v float64) float64 {
	if math.IsNaN(u) || math.IsNaN(v) || u < 0 || v < 0 {
		return math.NaN()
	}
	c, r := int(math.Floor(u)), int(math.Floor(v))
	if c >= s.Cols() || r >= s.Rows() {
		return math.NaN()
	}
	return s.At(r, c)
}

// split returns the lower neighbour index and the interpolation weight of the
// upper one, clamped the way OpenCV clamps at the borders.
func split(f float64, n int) (int, float64) {
	i := int(math.Floor(f))
	w := f - float64(i)
	if i < 0 {
		return 0, 0
	}
	if i >= n-1 {
		return n - 1, 0
	}
	return i, w
}

func crsTransform(from, to string) (proj.Transformer, error) {
	if from == "" || to == "" || raster.SameCRS(from, to) {
		return nil, nil
	}
	src, err := parseSR(from)
	if err != nil {
		return nil, err
	}
	dst, err := parseSR(to)
	if err != nil {
		return nil, err
	}
	t, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to build transform to %q: %w", to, err)
	}
	return t, nil
}
