// Package boundary loads area-of-interest polygons from vector files.
package boundary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// WGS84 is the reference system GeoJSON coordinates are defined in.
const WGS84 = "+proj=longlat +datum=WGS84 +no_defs"

// AOI is a polygonal area of interest. A nil SR means the polygon is already
// expressed in the reference system of whatever raster it is applied to.
type AOI struct {
	Polygonal geom.Polygonal
	SR        *proj.SR
}

// Bounds returns the envelope of the polygon in its own reference system.
func (a AOI) Bounds() *geom.Bounds {
	return a.Polygonal.Bounds()
}

// In returns the polygon expressed in dst. An AOI without reference system
// is returned unchanged. An AOI with one cannot be placed in a raster that
// has none.
func (a AOI) In(dst *proj.SR) (geom.Polygonal, error) {
	if a.SR == nil {
		return a.Polygonal, nil
	}
	if dst == nil {
		return nil, fmt.Errorf("AOI has a reference system but the raster has none: %w", raster.ErrGeometryMismatch)
	}
	trans, err := a.SR.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to build AOI transform: %w", err)
	}
	g, err := a.Polygonal.Transform(trans)
	if err != nil {
		return nil, fmt.Errorf("failed to reproject AOI: %w", err)
	}
	p, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("reprojected AOI is %T, not polygonal: %w", g, raster.ErrGeometryMismatch)
	}
	return p, nil
}

// WithCRS returns a copy of the AOI whose reference system is def, a PROJ.4
// definition. The coordinates are not transformed.
func (a AOI) WithCRS(def string) (AOI, error) {
	sr, err := proj.Parse(def)
	if err != nil {
		return AOI{}, fmt.Errorf("invalid AOI reference system %q: %v: %w", def, err, raster.ErrInvalidParameter)
	}
	a.SR = sr
	return a, nil
}

// FromBounds builds a rectangular AOI.
func FromBounds(minX, minY, maxX, maxY float64, sr *proj.SR) AOI {
	return AOI{
		Polygonal: &geom.Bounds{Min: geom.Point{X: minX, Y: minY}, Max: geom.Point{X: maxX, Y: maxY}},
		SR:        sr,
	}
}

// Load reads an AOI from a shapefile or a GeoJSON document, chosen by extension.
func Load(path string) (AOI, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return LoadShapefile(path)
	case ".geojson", ".json":
		return LoadGeoJSON(path)
	default:
		return AOI{}, fmt.Errorf("unsupported AOI format %q: %w", path, raster.ErrInvalidParameter)
	}
}

// LoadShapefile merges every polygon of a shapefile into one AOI. The
// reference system comes from the sidecar .prj file.
func LoadShapefile(path string) (AOI, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return AOI{}, fmt.Errorf("failed to open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	sr, err := dec.SR()
	if err != nil {
		return AOI{}, fmt.Errorf("failed to read projection of %s: %w", path, err)
	}

	var polys geom.MultiPolygon
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		p, ok := g.(geom.Polygonal)
		if !ok {
			return AOI{}, fmt.Errorf("shapefile %s holds %T, want polygons: %w", path, g, raster.ErrInvalidParameter)
		}
		polys = append(polys, p.Polygons()...)
	}
	if err := dec.Error(); err != nil {
		return AOI{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(polys) == 0 {
		return AOI{}, fmt.Errorf("shapefile %s has no polygons: %w", path, raster.ErrMissingInput)
	}
	return AOI{Polygonal: polys, SR: sr}, nil
}

// LoadGeoJSON reads a FeatureCollection, Feature or bare geometry. Polygons
// and multipolygons are merged; other geometry types are rejected.
func LoadGeoJSON(path string) (AOI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AOI{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	polys, err := ParseGeoJSON(data)
	if err != nil {
		return AOI{}, fmt.Errorf("%s: %w", path, err)
	}
	sr, err := proj.Parse(WGS84)
	if err != nil {
		return AOI{}, fmt.Errorf("failed to parse WGS84 definition: %w", err)
	}
	return AOI{Polygonal: polys, SR: sr}, nil
}

// ParseGeoJSON converts a GeoJSON document into polygons.
func ParseGeoJSON(data []byte) (geom.MultiPolygon, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid GeoJSON: %w", err)
	}

	var geometries []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		geometries = append(geometries, g.Geometry())
	}

	var out geom.MultiPolygon
	for _, g := range geometries {
		switch v := g.(type) {
		case orb.Polygon:
			out = append(out, fromOrbPolygon(v))
		case orb.MultiPolygon:
			for _, p := range v {
				out = append(out, fromOrbPolygon(p))
			}
		default:
			return nil, fmt.Errorf("geometry %T is not polygonal: %w", g, raster.ErrInvalidParameter)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no polygons found: %w", raster.ErrMissingInput)
	}
	return out, nil
}

func fromOrbPolygon(p orb.Polygon) geom.Polygon {
	out := make(geom.Polygon, len(p))
	for i, ring := range p {
		path := make(geom.Path, len(ring))
		for j, pt := range ring {
			path[j] = geom.Point{X: pt.X(), Y: pt.Y()}
		}
		out[i] = path
	}
	return out
}
