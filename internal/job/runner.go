// Package job orchestrates one acquisition request end to end:
// resolve the region, plan the tile grid, fetch tiles, merge mosaics,
// and composite marker overlays. The CLI and the Kafka consumer both
// drive this runner.
package job

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
	"github.com/couchcryptid/terrain-tile-service/internal/mosaic"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
	"github.com/couchcryptid/terrain-tile-service/internal/vector"
)

// Job statuses reported in Outcome.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Point is a WGS-84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Request describes one acquisition job. Exactly one of Point or GeoJSON
// must supply the input geometry.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Point   *Point          `json:"point,omitempty"`
	GeoJSON json.RawMessage `json:"geojson,omitempty"`

	SideLength float64 `json:"side_length"`
	Unit       string  `json:"unit"` // degrees, meters, kilometers

	// ResolutionMeters is the requested ground distance per pixel.
	ResolutionMeters float64  `json:"resolution_meters"`
	Services         []string `json:"services"`

	// Markers optionally holds GeoJSON whose points are composited onto
	// every mosaic.
	Markers json.RawMessage `json:"markers,omitempty"`
}

// TileOutcome is the per-tile report inside an Outcome.
type TileOutcome struct {
	Tile     string `json:"tile"`
	Outcome  string `json:"outcome"` // success, skipped, failed
	Attempts int    `json:"attempts"`
	Path     string `json:"path,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Outcome is the job result. Tiles enumerates every planned tile so a
// caller can retry just the failed subset.
type Outcome struct {
	JobID    string            `json:"job_id"`
	Status   string            `json:"status"`
	Mosaics  map[string]string `json:"mosaics,omitempty"` // service -> file path
	Tiles    []TileOutcome     `json:"tiles,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// Runner executes acquisition requests.
type Runner struct {
	catalog    domain.Catalog
	fetcher    *fetch.Fetcher
	logger     *slog.Logger
	metrics    *observability.Metrics
	outputRoot string
}

// NewRunner creates a Runner writing job artifacts under outputRoot.
func NewRunner(catalog domain.Catalog, fetcher *fetch.Fetcher, logger *slog.Logger, metrics *observability.Metrics, outputRoot string) *Runner {
	return &Runner{
		catalog:    catalog,
		fetcher:    fetcher,
		logger:     logger,
		metrics:    metrics,
		outputRoot: outputRoot,
	}
}

// Run executes one request. Validation failures return a failed Outcome
// and the error; per-tile fetch failures downgrade the job to partial
// and merge only the fully fetched services, leaving the retryable
// remainder enumerated in Tiles.
func (r *Runner) Run(ctx context.Context, req Request, sink fetch.ProgressSink) (Outcome, error) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	out := Outcome{JobID: req.ID, Status: StatusFailed}

	fail := func(err error) (Outcome, error) {
		out.Error = err.Error()
		out.Duration = time.Since(start)
		r.metrics.JobsProcessed.WithLabelValues(StatusFailed).Inc()
		return out, err
	}

	plan, markers, err := r.prepare(req)
	if err != nil {
		return fail(err)
	}

	r.logger.Info("job started",
		"job_id", req.ID,
		"tiles", len(plan.Tiles),
		"grid", fmt.Sprintf("%dx%d", plan.Rows, plan.Cols),
		"services", req.Services,
	)

	results, fetchErr := r.fetcher.Fetch(ctx, plan, sink)
	out.Tiles = tileOutcomes(results)

	succeededByService := map[string][]fetch.Result{}
	failedByService := map[string]int{}
	for _, res := range results {
		if res.Succeeded() {
			succeededByService[res.Spec.Service] = append(succeededByService[res.Spec.Service], res)
		} else {
			failedByService[res.Spec.Service]++
		}
	}

	out.Mosaics = map[string]string{}
	for _, name := range req.Services {
		if failedByService[name] > 0 {
			r.logger.Warn("skipping mosaic for partially fetched service",
				"job_id", req.ID, "service", name, "failed_tiles", failedByService[name])
			continue
		}
		path, err := r.buildMosaic(req.ID, name, succeededByService[name], markers)
		if err != nil {
			return fail(fmt.Errorf("mosaic %s: %w", name, err))
		}
		out.Mosaics[name] = path
	}

	out.Duration = time.Since(start)
	switch {
	case fetchErr == nil:
		out.Status = StatusComplete
	case len(out.Mosaics) > 0:
		out.Status = StatusPartial
		out.Error = fetchErr.Error()
	default:
		out.Status = StatusFailed
		out.Error = fetchErr.Error()
	}
	r.metrics.JobsProcessed.WithLabelValues(out.Status).Inc()
	r.metrics.JobDuration.Observe(out.Duration.Seconds())

	r.logger.Info("job finished", "job_id", req.ID, "status", out.Status, "mosaics", len(out.Mosaics))
	if out.Status == StatusComplete {
		return out, nil
	}
	return out, fetchErr
}

// prepare validates the request and turns it into a tile plan plus
// optional marker points.
func (r *Runner) prepare(req Request) (domain.TilePlan, []orb.Point, error) {
	geom, err := r.geometry(req)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}
	unit, err := domain.ParseUnit(req.Unit)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}
	if len(req.Services) == 0 {
		return domain.TilePlan{}, nil, fmt.Errorf("%w: at least one service required", domain.ErrInvalidParameter)
	}
	services, err := r.catalog.Select(req.Services)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}

	box, err := domain.Resolve(geom, req.SideLength, unit)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}

	maxCells := 0
	for _, svc := range services {
		if req.ResolutionMeters < svc.MaxResolution {
			return domain.TilePlan{}, nil, fmt.Errorf("%w: %gm/px is finer than service %s supports (%gm/px)",
				domain.ErrInvalidParameter, req.ResolutionMeters, svc.Name, svc.MaxResolution)
		}
		if maxCells == 0 || svc.MaxCellsPerRequest < maxCells {
			maxCells = svc.MaxCellsPerRequest
		}
	}

	degPerPx, err := domain.DegreesPerPixel(box.Center().Y(), req.ResolutionMeters)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}

	outDir := filepath.Join(r.outputRoot, req.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return domain.TilePlan{}, nil, fmt.Errorf("create job output dir: %w", err)
	}

	plan, err := domain.Plan(box, degPerPx, services, maxCells, outDir)
	if err != nil {
		return domain.TilePlan{}, nil, err
	}

	var markers []orb.Point
	if len(req.Markers) > 0 {
		mg, err := vector.Decode(req.Markers)
		if err != nil {
			return domain.TilePlan{}, nil, fmt.Errorf("markers: %w", err)
		}
		markers = vector.Points(mg)
	}
	return plan, markers, nil
}

func (r *Runner) geometry(req Request) (domain.Geometry, error) {
	switch {
	case req.Point != nil && len(req.GeoJSON) > 0:
		return domain.Geometry{}, fmt.Errorf("%w: point and geojson are mutually exclusive", domain.ErrInvalidParameter)
	case req.Point != nil:
		return domain.Geometry{
			Geom: orb.Point{req.Point.Lon, req.Point.Lat},
			CRS:  domain.CRSWGS84,
		}, nil
	case len(req.GeoJSON) > 0:
		return vector.Decode(req.GeoJSON)
	}
	return domain.Geometry{}, fmt.Errorf("%w: request needs a point or geojson geometry", domain.ErrInvalidGeometry)
}

// buildMosaic merges one service's tiles and stacks the marker overlay.
func (r *Runner) buildMosaic(jobID, service string, results []fetch.Result, markers []orb.Point) (string, error) {
	rasters := make([]*mosaic.Raster, 0, len(results))
	for _, res := range results {
		raster, err := mosaic.ReadTile(res.Spec)
		if err != nil {
			return "", err
		}
		rasters = append(rasters, raster)
	}

	merged, err := mosaic.Merge(rasters)
	if err != nil {
		return "", err
	}

	if len(markers) > 0 {
		overlay := mosaic.RenderMarkers(merged, markers, mosaic.DefaultMarkerStyle())
		merged, err = mosaic.CompositeOverlay(merged, []image.Image{overlay})
		if err != nil {
			return "", err
		}
	}

	path := filepath.Join(r.outputRoot, jobID, service+"_mosaic.png")
	if err := merged.WritePNG(path); err != nil {
		return "", err
	}
	return path, nil
}

func tileOutcomes(results []fetch.Result) []TileOutcome {
	outcomes := make([]TileOutcome, 0, len(results))
	for _, res := range results {
		to := TileOutcome{
			Tile:     res.Spec.ID(),
			Attempts: res.Attempts,
			Path:     res.Path,
		}
		switch {
		case res.Err != nil:
			to.Outcome = string(fetch.OutcomeFailed)
			to.Error = res.Err.Error()
		case res.Skipped:
			to.Outcome = string(fetch.OutcomeSkipped)
		default:
			to.Outcome = string(fetch.OutcomeSuccess)
		}
		outcomes = append(outcomes, to)
	}
	return outcomes
}
