package index

import (
	"math"
	"testing"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedDifference(t *testing.T) {
	green, err := raster.FromRows([][]float64{{3, 0, 5, 2}})
	require.NoError(t, err)
	swir, err := raster.FromRows([][]float64{{1, 0, -5, 6}})
	require.NoError(t, err)

	got, err := NormalizedDifference(green, swir)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, got.AtIndex(0), 1e-12)
	assert.Equal(t, 0.0, got.AtIndex(1), "zero denominator")
	assert.Equal(t, 0.0, got.AtIndex(2), "opposite values cancel to zero denominator")
	assert.InDelta(t, -0.5, got.AtIndex(3), 1e-12)
	for i := 0; i < got.Len(); i++ {
		assert.False(t, math.IsNaN(got.AtIndex(i)))
	}
}

func TestNormalizedDifferencePropagatesInvalid(t *testing.T) {
	green, err := raster.FromRows([][]float64{{math.NaN(), 1}})
	require.NoError(t, err)
	swir, err := raster.FromRows([][]float64{{1, math.Inf(1)}})
	require.NoError(t, err)

	got, err := MNDWI(green, swir)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.AtIndex(0)))
	assert.True(t, math.IsNaN(got.AtIndex(1)))
}

func TestNormalizedDifferenceShapeMismatch(t *testing.T) {
	a, err := raster.FromRows([][]float64{{1, 2}})
	require.NoError(t, err)
	b, err := raster.FromRows([][]float64{{1, 2, 3}})
	require.NoError(t, err)

	_, err = NormalizedDifference(a, b)
	assert.ErrorIs(t, err, raster.ErrShapeMismatch)

	_, err = NormalizedDifference(a, nil)
	assert.ErrorIs(t, err, raster.ErrMissingInput)
}
