package domain

import (
	"fmt"
	"sort"
)

// Service describes one National Map raster layer and the request limits
// the planner must respect. The catalog is closed configuration, not
// inferred at runtime: a service name either maps to a known entry or the
// request is rejected.
type Service struct {
	Name string // short name used in requests and tile paths
	// Layer is the upstream ImageServer name, e.g. "3DEPElevation".
	Layer   string
	BaseURL string // exportImage endpoint
	Format  string // raster format requested upstream: "tiff" or "png"

	// MaxResolution is the finest ground distance per pixel the service
	// publishes, in meters.
	MaxResolution float64

	// MaxCellsPerRequest caps the pixel area of a single exportImage call.
	MaxCellsPerRequest int
}

// FileExt returns the extension for tile files of this service.
func (s Service) FileExt() string {
	if s.Format == "tiff" {
		return "tif"
	}
	return s.Format
}

// Catalog maps service names to their configuration.
type Catalog map[string]Service

// The National Map ImageServer endpoints behind the default catalog.
const (
	elevationExportURL = "https://elevation.nationalmap.gov/arcgis/rest/services/3DEPElevation/ImageServer/exportImage"
	orthoExportURL     = "https://imagery.nationalmap.gov/arcgis/rest/services/USGSNAIPPlus/ImageServer/exportImage"
)

// DefaultCatalog returns the built-in services: 3DEP elevation and NAIP
// orthoimagery. The 8000x8000 cells-per-request cap matches the upstream
// exportImage limit.
func DefaultCatalog() Catalog {
	return Catalog{
		"elevation": {
			Name:               "elevation",
			Layer:              "3DEPElevation",
			BaseURL:            elevationExportURL,
			Format:             "tiff",
			MaxResolution:      1,
			MaxCellsPerRequest: 8000 * 8000,
		},
		"ortho": {
			Name:               "ortho",
			Layer:              "USGSNAIPPlus",
			BaseURL:            orthoExportURL,
			Format:             "png",
			MaxResolution:      1,
			MaxCellsPerRequest: 8000 * 8000,
		},
	}
}

// Select resolves service names against the catalog, preserving request
// order. Unknown names fail the whole selection.
func (c Catalog) Select(names []string) ([]Service, error) {
	services := make([]Service, 0, len(names))
	for _, name := range names {
		svc, ok := c[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownService, name, c.Names())
		}
		services = append(services, svc)
	}
	return services, nil
}

// Names lists the catalog's service names, sorted for stable messages.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
