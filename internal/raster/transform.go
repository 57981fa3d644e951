package raster

import (
	"fmt"
	"math"
)

// GeoTransform is the six coefficient affine mapping from pixel space to
// georeferenced space, in GDAL order:
//
//	x = GT[0] + col*GT[1] + row*GT[2]
//	y = GT[3] + col*GT[4] + row*GT[5]
type GeoTransform [6]float64

// NorthUp builds a transform without rotation terms.
func NorthUp(originX, originY, pixelWidth, pixelHeight float64) GeoTransform {
	return GeoTransform{originX, pixelWidth, 0, originY, 0, pixelHeight}
}

// Identity returns the transform GDAL assigns to rasters without georeferencing.
func Identity() GeoTransform {
	return GeoTransform{0, 1, 0, 0, 0, 1}
}

// Apply maps a pixel-space coordinate (col, row) to world coordinates.
// Pixel centres sit at half-integer positions.
func (gt GeoTransform) Apply(col, row float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// Inverse returns the world-to-pixel transform. The second result is false
// when the transform is singular.
func (gt GeoTransform) Inverse() (GeoTransform, bool) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if math.Abs(det) < 1e-15 {
		return GeoTransform{}, false
	}
	inv := 1.0 / det
	a := gt[5] * inv
	b := -gt[2] * inv
	c := -gt[4] * inv
	d := gt[1] * inv
	return GeoTransform{
		-gt[0]*a - gt[3]*b, a, b,
		-gt[0]*c - gt[3]*d, c, d,
	}, true
}

// IsNorthUp reports whether the transform has no rotation or shear terms.
func (gt GeoTransform) IsNorthUp() bool {
	return gt[2] == 0 && gt[4] == 0
}

// Window returns the transform of a sub-grid whose top-left pixel is (col, row).
func (gt GeoTransform) Window(col, row int) GeoTransform {
	x, y := gt.Apply(float64(col), float64(row))
	return GeoTransform{x, gt[1], gt[2], y, gt[4], gt[5]}
}

// Equal compares coefficients within an absolute tolerance.
func (gt GeoTransform) Equal(other GeoTransform, tol float64) bool {
	for i := range gt {
		if math.Abs(gt[i]-other[i]) > tol {
			return false
		}
	}
	return true
}

func (gt GeoTransform) String() string {
	return fmt.Sprintf("[%g %g %g %g %g %g]", gt[0], gt[1], gt[2], gt[3], gt[4], gt[5])
}
