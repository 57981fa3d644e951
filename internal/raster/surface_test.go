package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCopiesInput(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	s, err := New(Grid{Rows: 2, Cols: 2, Transform: Identity()}, data)
	require.NoError(t, err)

	data[0] = 99
	assert.Equal(t, 1.0, s.At(0, 0))

	vals := s.Values()
	vals[1] = 99
	assert.Equal(t, 2.0, s.At(0, 1))
}

func TestNewRejectsBadShapes(t *testing.T) {
	_, err := New(Grid{Rows: 2, Cols: 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = New(Grid{Rows: 0, Cols: 2}, nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = FromRows([][]float64{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSameGrid(t *testing.T) {
	grid := Grid{Rows: 2, Cols: 3, Transform: NorthUp(500000, 1000000, 30, -30), CRS: "EPSG:32631"}
	a, err := Filled(grid, 0)
	require.NoError(t, err)
	b, err := Filled(grid, 1)
	require.NoError(t, err)

	assert.NoError(t, SameGrid(a, b))

	tests := []struct {
		name string
		grid Grid
	}{
		{"different shape", Grid{Rows: 3, Cols: 2, Transform: grid.Transform, CRS: grid.CRS}},
		{"shifted origin", Grid{Rows: 2, Cols: 3, Transform: NorthUp(500030, 1000000, 30, -30), CRS: grid.CRS}},
		{"different crs", Grid{Rows: 2, Cols: 3, Transform: grid.Transform, CRS: "EPSG:4326"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Filled(tt.grid, 0)
			require.NoError(t, err)
			assert.ErrorIs(t, SameGrid(a, c), ErrShapeMismatch)
		})
	}

	assert.ErrorIs(t, SameGrid(a, nil), ErrMissingInput)
}

func TestCheckProbabilityAndBinary(t *testing.T) {
	ok, err := FromRows([][]float64{{0, 0.5, 1, math.NaN()}})
	require.NoError(t, err)
	assert.NoError(t, CheckProbability(ok))
	assert.ErrorIs(t, CheckBinary(ok), ErrInvalidParameter)

	bad, err := FromRows([][]float64{{-0.1, 1.2}})
	require.NoError(t, err)
	assert.ErrorIs(t, CheckProbability(bad), ErrInvalidParameter)

	mask, err := FromRows([][]float64{{0, 1, math.NaN()}})
	require.NoError(t, err)
	assert.NoError(t, CheckBinary(mask))
}

func TestGeoTransformInverse(t *testing.T) {
	gt := GeoTransform{440720, 30, 2, 3751320, 1.5, -30}
	inv, ok := gt.Inverse()
	require.True(t, ok)

	x, y := gt.Apply(12.5, 7.25)
	col, row := inv.Apply(x, y)
	assert.InDelta(t, 12.5, col, 1e-9)
	assert.InDelta(t, 7.25, row, 1e-9)

	_, ok = GeoTransform{0, 0, 0, 0, 0, 0}.Inverse()
	assert.False(t, ok)
}

func TestGridBounds(t *testing.T) {
	g := Grid{Rows: 10, Cols: 20, Transform: NorthUp(100, 500, 10, -10)}
	minX, minY, maxX, maxY := g.Bounds()
	assert.Equal(t, 100.0, minX)
	assert.Equal(t, 400.0, minY)
	assert.Equal(t, 300.0, maxX)
	assert.Equal(t, 500.0, maxY)
}

func TestWindow(t *testing.T) {
	gt := NorthUp(100, 500, 10, -10)
	assert.Equal(t, NorthUp(130, 480, 10, -10), gt.Window(3, 2))
}
