package rasterio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/lukeroth/gdal"
)

// ResolveCRS turns an "EPSG:<code>" reference into PROJ.4. Any other
// definition is returned trimmed.
func ResolveCRS(def string) (string, error) {
	def = strings.TrimSpace(def)
	code, ok := strings.CutPrefix(strings.ToUpper(def), "EPSG:")
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", fmt.Errorf("invalid EPSG reference %q: %w", def, raster.ErrInvalidParameter)
	}
	return CRSFromEPSG(n)
}

// CRSFromEPSG returns the PROJ.4 definition of an EPSG code.
func CRSFromEPSG(code int) (string, error) {
	sr := gdal.CreateSpatialReference("")
	defer sr.Destroy()
	if err := sr.FromEPSG(code); err != nil {
		return "", fmt.Errorf("unknown EPSG code %d: %w", code, err)
	}
	p, err := sr.ToProj4()
	if err != nil {
		return "", fmt.Errorf("failed to export EPSG:%d: %w", code, err)
	}
	return strings.TrimSpace(p), nil
}

// toProj4 normalises a dataset projection (usually WKT) to PROJ.4, which is
// what the vector reprojection code parses.
func toProj4(wkt string) (string, error) {
	if strings.TrimSpace(wkt) == "" {
		return "", nil
	}
	sr := gdal.CreateSpatialReference(wkt)
	defer sr.Destroy()
	p, err := sr.ToProj4()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(p), nil
}

// toWKT converts a PROJ.4 or WKT definition into WKT for GDAL datasets.
func toWKT(def string) (string, error) {
	def = strings.TrimSpace(def)
	if def == "" || !strings.HasPrefix(def, "+") {
		return def, nil
	}
	sr := gdal.CreateSpatialReference("")
	defer sr.Destroy()
	if err := sr.FromProj4(def); err != nil {
		return "", fmt.Errorf("invalid PROJ.4 definition %q: %w", def, err)
	}
	return sr.ToWKT()
}
