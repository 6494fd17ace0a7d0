// Package vector reads vector data sources into domain geometries.
// GeoJSON is the only supported input; it is what the upstream workshop
// workflows hand the pipeline.
package vector

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

// ReadFile loads a GeoJSON file into a Geometry. Feature collections are
// flattened into a single collection geometry; CRS is assumed WGS-84 per
// the GeoJSON spec (RFC 7946).
func ReadFile(path string) (domain.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("read geojson: %w", err)
	}
	return Decode(data)
}

// Decode parses GeoJSON bytes. It accepts a FeatureCollection, a single
// Feature, or a bare geometry object.
func Decode(data []byte) (domain.Geometry, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil {
		return fromFeatures(fc.Features)
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil {
		return fromFeatures([]*geojson.Feature{f})
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("%w: decode geojson: %v", domain.ErrInvalidGeometry, err)
	}
	return wrap(g.Geometry())
}

// Points extracts every coordinate of the geometry as a flat point list,
// the form the marker overlay renderer consumes.
func Points(g domain.Geometry) []orb.Point {
	if g.Geom == nil {
		return nil
	}
	var pts []orb.Point
	collect(g.Geom, &pts)
	return pts
}

func fromFeatures(features []*geojson.Feature) (domain.Geometry, error) {
	var collection orb.Collection
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		collection = append(collection, f.Geometry)
	}
	if len(collection) == 1 {
		return wrap(collection[0])
	}
	return wrap(collection)
}

func wrap(geom orb.Geometry) (domain.Geometry, error) {
	g := domain.Geometry{Geom: geom, CRS: domain.CRSWGS84}
	if g.Empty() {
		return domain.Geometry{}, fmt.Errorf("%w: geojson contains no coordinates", domain.ErrInvalidGeometry)
	}
	return g, nil
}

func collect(geom orb.Geometry, pts *[]orb.Point) {
	switch g := geom.(type) {
	case orb.Point:
		*pts = append(*pts, g)
	case orb.MultiPoint:
		*pts = append(*pts, g...)
	case orb.LineString:
		*pts = append(*pts, g...)
	case orb.MultiLineString:
		for _, ls := range g {
			*pts = append(*pts, ls...)
		}
	case orb.Ring:
		*pts = append(*pts, g...)
	case orb.Polygon:
		for _, r := range g {
			*pts = append(*pts, r...)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			collect(p, pts)
		}
	case orb.Collection:
		for _, c := range g {
			collect(c, pts)
		}
	}
}
