package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Resolve computes an axis-aligned square region of the requested side
// length centered on the geometry. Multi-point geometries are centered on
// their minimal enclosing box. Linear units are converted to degrees
// using the local scale at the center latitude, so the box is the
// requested size where it sits rather than at the equator. Pure function,
// no side effects.
func Resolve(g Geometry, sideLength float64, unit Unit) (BoundingBox, error) {
	if g.Empty() {
		return BoundingBox{}, fmt.Errorf("%w: geometry has no coordinates", ErrInvalidGeometry)
	}
	if sideLength <= 0 {
		return BoundingBox{}, fmt.Errorf("%w: side length must be positive, got %g", ErrInvalidParameter, sideLength)
	}

	center := g.Geom.Bound().Center()

	var halfX, halfY float64
	switch unit {
	case UnitDegrees:
		halfX = sideLength / 2
		halfY = sideLength / 2
	case UnitMeters, UnitKilometers:
		meters := sideLength
		if unit == UnitKilometers {
			meters *= 1000
		}
		mLat, mLon := metersPerDegree(center.Y())
		halfX = meters / 2 / mLon
		halfY = meters / 2 / mLat
	default:
		return BoundingBox{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidParameter, unit)
	}

	crs := g.CRS
	if crs == "" {
		crs = CRSWGS84
	}
	return BoundingBox{
		Min: orb.Point{center.X() - halfX, center.Y() - halfY},
		Max: orb.Point{center.X() + halfX, center.Y() + halfY},
		CRS: crs,
	}, nil
}

// DegreesPerPixel converts a ground resolution in meters per pixel to
// degrees per pixel at the given latitude, using the meridian arc length
// so a pixel is exactly resolutionMeters tall; east-west pixels come out
// slightly oversampled away from the equator.
func DegreesPerPixel(latDeg, resolutionMeters float64) (float64, error) {
	if resolutionMeters <= 0 {
		return 0, fmt.Errorf("%w: resolution must be positive, got %g", ErrInvalidParameter, resolutionMeters)
	}
	mLat, _ := metersPerDegree(latDeg)
	return resolutionMeters / mLat, nil
}

// metersPerDegree returns the length in meters of one degree of latitude
// and of longitude at the given latitude, from the truncated series
// expansion of the WGS-84 meridian and parallel arc lengths.
func metersPerDegree(latDeg float64) (mLat, mLon float64) {
	phi := latDeg * math.Pi / 180
	mLat = 111132.92 - 559.82*math.Cos(2*phi) + 1.175*math.Cos(4*phi) - 0.0023*math.Cos(6*phi)
	mLon = 111412.84*math.Cos(phi) - 93.5*math.Cos(3*phi) + 0.118*math.Cos(5*phi)
	return mLat, mLon
}
