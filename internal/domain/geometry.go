package domain

import (
	"fmt"

	"github.com/paulmach/orb"
)

// CRSWGS84 is the geographic coordinate reference system used throughout
// the pipeline. Reprojection is out of scope; inputs in another CRS must
// be reprojected before they reach the resolver.
const CRSWGS84 = "EPSG:4326"

// Unit is a linear or angular unit for requested side lengths.
type Unit string

const (
	UnitDegrees    Unit = "degrees"
	UnitMeters     Unit = "meters"
	UnitKilometers Unit = "kilometers"
)

// ParseUnit maps a user-supplied unit string to a Unit.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitDegrees, UnitMeters, UnitKilometers:
		return Unit(s), nil
	}
	return "", fmt.Errorf("%w: unknown unit %q", ErrInvalidParameter, s)
}

// Geometry is an immutable set of coordinates tagged with a CRS.
// It is only ever used as input to Resolve.
type Geometry struct {
	Geom orb.Geometry
	CRS  string
}

// Empty reports whether the geometry contains no coordinates. orb returns
// an inverted bound for zero-length geometries, which IsEmpty detects; a
// single point yields a degenerate but non-empty bound.
func (g Geometry) Empty() bool {
	return g.Geom == nil || g.Geom.Bound().IsEmpty()
}

// BoundingBox is an axis-aligned rectangle in a geographic CRS.
// Invariant: Min < Max on both axes (see Validate).
type BoundingBox struct {
	Min orb.Point
	Max orb.Point
	CRS string
}

// Validate checks the min < max invariant.
func (b BoundingBox) Validate() error {
	if b.Min.X() >= b.Max.X() || b.Min.Y() >= b.Max.Y() {
		return fmt.Errorf("%w: bounding box min must be strictly below max, got [%v %v]",
			ErrInvalidParameter, b.Min, b.Max)
	}
	return nil
}

// Width returns the extent along the x axis in CRS units.
func (b BoundingBox) Width() float64 { return b.Max.X() - b.Min.X() }

// Height returns the extent along the y axis in CRS units.
func (b BoundingBox) Height() float64 { return b.Max.Y() - b.Min.Y() }

// Center returns the box midpoint.
func (b BoundingBox) Center() orb.Point {
	return orb.Point{(b.Min.X() + b.Max.X()) / 2, (b.Min.Y() + b.Max.Y()) / 2}
}

// Bound converts to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: b.Min, Max: b.Max}
}

// Contains reports whether the point lies inside or on the box edge.
func (b BoundingBox) Contains(p orb.Point) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y()
}
