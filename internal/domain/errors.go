package domain

import "errors"

// Sentinel errors for contract violations. Callers match with errors.Is;
// wrapping sites add the offending input to the message.
var (
	// ErrInvalidGeometry marks a geometry with no coordinates.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrInvalidParameter marks a numeric or enum input outside its contract.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrIncompatibleTiles marks a merge over tiles that differ in
	// resolution or CRS.
	ErrIncompatibleTiles = errors.New("incompatible tiles")

	// ErrDimensionMismatch marks an overlay whose pixel dimensions differ
	// from the base raster.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnknownService marks a request for a service name missing from
	// the catalog.
	ErrUnknownService = errors.New("unknown service")
)
