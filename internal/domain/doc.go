// Package domain models bounded-tile raster acquisition from the USGS
// National Map.
//
// # Data Source
//
// Rasters are requested from National Map ArcGIS ImageServer endpoints
// (https://apps.nationalmap.gov/services/) via their exportImage operation.
// Each configured service maps a short name ("elevation", "ortho") to an
// upstream layer (3DEPElevation, USGSNAIPPlus), a raster format, and the
// service's request limits. The upstream API accepts an axis-aligned
// bounding box, an output pixel size, and a format, and returns raster
// bytes. Requests whose pixel area exceeds the service's cells-per-request
// limit are rejected upstream, which is why oversized regions are split
// into a tile grid before fetching.
//
// # Coordinates
//
// All boxes carry a CRS identifier; the pipeline operates in EPSG:4326.
// Linear side lengths (meters, kilometers) are converted to degrees using
// the local arc lengths of the WGS-84 meridian and parallel at the
// region's center latitude, so a "16 km" box is 16 km across at its
// center rather than at the equator.
//
// # Tile Grid
//
// A region is partitioned into ceil(side / maxTileSide) divisions per
// axis, where maxTileSide = sqrt(maxCellsPerTile) * resolution. Division
// counts are computed independently per axis and remainder space is
// absorbed by the last row and column, so every tile except possibly the
// last in each row/column has identical size. Row 0 is the northernmost
// row, column 0 the westernmost column; tile boundaries meet exactly with
// no gaps and no interior overlap, which keeps the downstream merge free
// of double-counted pixels.
//
// # Output Naming
//
// Tile files are named "<service>_r<row>_c<col>.<ext>" under the job's
// output directory. The scheme is deterministic and collision-free across
// a plan, so concurrent downloads never contend for a path and re-runs
// can find previously downloaded tiles.
package domain
