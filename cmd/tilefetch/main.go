// Command tilefetch runs a single acquisition job from the command line:
// it resolves a square region around a point or GeoJSON geometry, fetches
// the tiles from the USGS National Map, and writes one mosaic per service.
//
// Usage:
//
//	go run ./cmd/tilefetch \
//	  -lat 44.59 -lon -104.72 \
//	  -side 8 -unit kilometers \
//	  -resolution 10 \
//	  -services elevation,ortho \
//	  -out ./tiles
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/terrain-tile-service/internal/adapter/usgs"
	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
	"github.com/couchcryptid/terrain-tile-service/internal/job"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
)

func main() {
	lat := flag.Float64("lat", 0, "latitude of the region center")
	lon := flag.Float64("lon", 0, "longitude of the region center")
	geojson := flag.String("geojson", "", "path to a GeoJSON file centering the region (instead of -lat/-lon)")
	side := flag.Float64("side", 8, "side length of the square region")
	unit := flag.String("unit", "kilometers", "unit of -side: degrees, meters, or kilometers")
	resolution := flag.Float64("resolution", 10, "ground resolution in meters per pixel")
	services := flag.String("services", "elevation", "comma-separated raster services to fetch")
	out := flag.String("out", "./tiles", "output directory")
	markers := flag.String("markers", "", "path to a GeoJSON file of points to draw on the mosaics")
	concurrency := flag.Int("concurrency", 4, "maximum parallel downloads")
	retries := flag.Int("retries", 3, "retries per tile on transient failures")
	timeout := flag.Duration("timeout", 60*time.Second, "per-request timeout")
	overwrite := flag.Bool("overwrite", false, "refetch tiles that already exist on disk")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	if *geojson == "" && *lat == 0 && *lon == 0 {
		fmt.Fprintln(os.Stderr, "either -geojson or -lat/-lon is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := observability.NewLogger(*logLevel, "text")
	metrics := observability.NewMetrics()

	req := job.Request{
		SideLength:       *side,
		Unit:             *unit,
		ResolutionMeters: *resolution,
		Services:         splitServices(*services),
	}
	if *geojson != "" {
		data, err := os.ReadFile(*geojson)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read geojson: %v\n", err)
			os.Exit(1)
		}
		req.GeoJSON = data
	} else {
		req.Point = &job.Point{Lat: *lat, Lon: *lon}
	}
	if *markers != "" {
		data, err := os.ReadFile(*markers)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read markers: %v\n", err)
			os.Exit(1)
		}
		req.Markers = data
	}

	catalog := domain.DefaultCatalog()
	client := usgs.NewClient(catalog, *timeout, logger)
	fetcher := fetch.New(client, clockwork.NewRealClock(), logger, metrics, fetch.Options{
		MaxConcurrency: *concurrency,
		MaxRetries:     *retries,
		Overwrite:      *overwrite,
	})
	runner := job.NewRunner(catalog, fetcher, logger, metrics, *out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := fetch.SinkFunc(func(e fetch.Event) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", e.Completed, e.Total, e.TileID, e.Outcome)
	})

	outcome, err := runner.Run(ctx, req, sink)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(outcome)

	if err != nil {
		fmt.Fprintf(os.Stderr, "job %s: %v\n", outcome.Status, err)
		os.Exit(1)
	}
}

func splitServices(s string) []string {
	var names []string
	for _, n := range strings.Split(s, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}
