// Package rasterio moves surfaces between GeoTIFF files and memory.
package rasterio

import (
	"fmt"
	"os"
	"time"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/lukeroth/gdal"
)

const component = "RasterIO"

// Reader loads bands of a raster file as surfaces.
type Reader interface {
	// ReadBands returns the requested 1-based bands; with none, band 1.
	ReadBands(path string, bands ...int) ([]*raster.Surface, error)
}

// GDALReader reads any format GDAL understands. Samples the policy rejects
// are replaced by NaN at read time; the declared nodata value of the band is
// kept on the surface.
type GDALReader struct {
	policy nodata.Policy
	logger logger.Logger
}

func NewGDALReader(policy nodata.Policy, log logger.Logger) *GDALReader {
	if log == nil {
		log = logger.Nop{}
	}
	return &GDALReader{policy: policy, logger: log}
}

func (r *GDALReader) ReadBands(path string, bands ...int) ([]*raster.Surface, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("raster %s: %w", path, raster.ErrMissingInput)
	}
	if len(bands) == 0 {
		bands = []int{1}
	}

	start := time.Now()
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer ds.Close()

	crs, err := toProj4(ds.Projection())
	if err != nil {
		return nil, fmt.Errorf("failed to read projection of %s: %w", path, err)
	}
	grid := raster.Grid{
		Rows:      ds.RasterYSize(),
		Cols:      ds.RasterXSize(),
		Transform: raster.GeoTransform(ds.GeoTransform()),
		CRS:       crs,
	}

	out := make([]*raster.Surface, 0, len(bands))
	for _, b := range bands {
		if b < 1 || b > ds.RasterCount() {
			return nil, fmt.Errorf("%s has %d bands, band %d requested: %w", path, ds.RasterCount(), b, raster.ErrMissingInput)
		}
		band := ds.RasterBand(b)
		data := make([]float64, grid.Len())
		if err := band.IO(gdal.RWFlag(gdal.Read), 0, 0, grid.Cols, grid.Rows, data, grid.Cols, grid.Rows, 0, 0); err != nil {
			return nil, fmt.Errorf("failed to read band %d of %s: %w", b, path, err)
		}
		s, err := raster.Wrap(grid, data)
		if err != nil {
			return nil, err
		}
		if nd, ok := band.NoDataValue(); ok {
			s = s.WithNoData(nd)
		}
		out = append(out, r.policy.Apply(s))
	}

	r.logger.Debug(component, "raster read", map[string]interface{}{
		"path":    path,
		"bands":   bands,
		"size":    fmt.Sprintf("%dx%d", grid.Cols, grid.Rows),
		"elapsed": time.Since(start).String(),
	})
	return out, nil
}

// ReadBand is a convenience wrapper for single-band rasters.
func ReadBand(r Reader, path string, band int) (*raster.Surface, error) {
	surfaces, err := r.ReadBands(path, band)
	if err != nil {
		return nil, err
	}
	return surfaces[0], nil
}
