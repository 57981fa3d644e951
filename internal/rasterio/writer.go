package rasterio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/lukeroth/gdal"
)

// MaskNoData marks invalid pixels in written binary masks.
const MaskNoData = 255

// Writer persists fused outputs.
type Writer interface {
	WriteProbability(path string, s *raster.Surface) error
	WriteMask(path string, s *raster.Surface) error
}

// GeoTIFFWriter writes single-band GeoTIFFs that keep the geotransform and
// reference system of the surface.
type GeoTIFFWriter struct {
	logger logger.Logger
}

func NewGeoTIFFWriter(log logger.Logger) *GeoTIFFWriter {
	if log == nil {
		log = logger.Nop{}
	}
	return &GeoTIFFWriter{logger: log}
}

// WriteProbability stores s as Float32 with NaN as nodata.
func (w *GeoTIFFWriter) WriteProbability(path string, s *raster.Surface) error {
	buf := make([]float32, s.Len())
	for i := range buf {
		buf[i] = float32(s.AtIndex(i))
	}
	return w.write(path, s.Grid(), gdal.Float32, buf, math.NaN())
}

// WriteMask stores a binary surface as Byte with 255 for invalid pixels.
func (w *GeoTIFFWriter) WriteMask(path string, s *raster.Surface) error {
	if err := raster.CheckBinary(s); err != nil {
		return err
	}
	buf := make([]uint8, s.Len())
	for i := range buf {
		v := s.AtIndex(i)
		if math.IsNaN(v) {
			buf[i] = MaskNoData
			continue
		}
		buf[i] = uint8(v)
	}
	return w.write(path, s.Grid(), gdal.Byte, buf, MaskNoData)
}

func (w *GeoTIFFWriter) write(path string, grid raster.Grid, dt gdal.DataType, buf interface{}, noData float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	wkt, err := toWKT(grid.CRS)
	if err != nil {
		return err
	}

	driver, err := gdal.GetDriverByName("GTiff")
	if err != nil {
		return fmt.Errorf("GTiff driver unavailable: %w", err)
	}
	ds := driver.Create(path, grid.Cols, grid.Rows, 1, dt, []string{"COMPRESS=DEFLATE"})
	defer ds.Close()

	if err := ds.SetGeoTransform([6]float64(grid.Transform)); err != nil {
		return fmt.Errorf("failed to set geotransform on %s: %w", path, err)
	}
	if wkt != "" {
		if err := ds.SetProjection(wkt); err != nil {
			return fmt.Errorf("failed to set projection on %s: %w", path, err)
		}
	}
	band := ds.RasterBand(1)
	if err := band.SetNoDataValue(noData); err != nil {
		return fmt.Errorf("failed to set nodata on %s: %w", path, err)
	}
	if err := band.IO(gdal.RWFlag(gdal.Write), 0, 0, grid.Cols, grid.Rows, buf, grid.Cols, grid.Rows, 0, 0); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	w.logger.Info(component, "raster written", map[string]interface{}{
		"path": path,
		"size": fmt.Sprintf("%dx%d", grid.Cols, grid.Rows),
	})
	return nil
}
