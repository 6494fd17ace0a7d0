// Package fetch downloads planned tiles through a bounded worker pool
// with retry, idempotent re-run support, and observable progress.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
)

// Downloader retrieves the raster bytes for one tile. Implemented by the
// USGS adapter; tests substitute fakes.
type Downloader interface {
	DownloadTile(ctx context.Context, spec domain.TileSpec) ([]byte, error)
}

// Result is the outcome for one TileSpec. Results come back in plan
// order regardless of completion order, so downstream merge logic can
// rely on positional correspondence.
type Result struct {
	Spec     domain.TileSpec
	Path     string
	Attempts int
	Skipped  bool // already on disk and verified; no network call made
	Err      error
}

// Succeeded reports whether the tile is on disk and verified.
func (r Result) Succeeded() bool { return r.Err == nil }

// Options tunes the fetcher. Zero values pick the defaults.
type Options struct {
	MaxConcurrency int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Overwrite forces refetching tiles that already verify on disk.
	Overwrite bool
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// Fetcher executes tile plans.
type Fetcher struct {
	downloader Downloader
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
	opts       Options
}

// New creates a Fetcher. Pass clockwork.NewRealClock() outside tests.
func New(d Downloader, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Fetcher {
	return &Fetcher{
		downloader: d,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		opts:       opts.withDefaults(),
	}
}

// Fetch downloads every tile in the plan, at most MaxConcurrency at a
// time. It always returns one Result per TileSpec in plan order; the
// error is non-nil when any tile failed or the context was cancelled,
// and the caller decides whether the partial result set is acceptable.
func (f *Fetcher) Fetch(ctx context.Context, plan domain.TilePlan, sink ProgressSink) ([]Result, error) {
	total := len(plan.Tiles)
	if total == 0 {
		return nil, fmt.Errorf("%w: plan has no tiles", domain.ErrInvalidParameter)
	}
	if sink == nil {
		sink = NopSink{}
	}

	results := make([]Result, total)
	jobs := make(chan int)
	// Buffered to the plan size so workers never block on a slow sink.
	events := make(chan Event, total)
	var completed atomic.Int64

	var dispatchWG sync.WaitGroup
	dispatchWG.Add(1)
	go func() {
		defer dispatchWG.Done()
		for e := range events {
			sink.TileCompleted(e)
		}
	}()

	workers := min(f.opts.MaxConcurrency, total)
	var workerWG sync.WaitGroup
	for w := 0; w < workers; w++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for i := range jobs {
				f.metrics.ActiveWorkers.Inc()
				res := f.fetchTile(ctx, plan.Tiles[i])
				f.metrics.ActiveWorkers.Dec()
				results[i] = res
				events <- Event{
					TileID:    res.Spec.ID(),
					Outcome:   outcomeOf(res),
					Err:       res.Err,
					Completed: int(completed.Add(1)),
					Total:     total,
				}
			}
		}()
	}

	// Stop issuing tiles on cancellation; in-flight downloads drain on
	// their own via the request context.
	for i := range plan.Tiles {
		select {
		case jobs <- i:
		case <-ctx.Done():
			results[i] = Result{Spec: plan.Tiles[i], Path: plan.Tiles[i].Path, Err: ctx.Err()}
		}
	}
	close(jobs)
	workerWG.Wait()
	close(events)
	dispatchWG.Wait()

	var failed int
	for _, res := range results {
		if !res.Succeeded() {
			failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("fetch cancelled with %d of %d tiles unresolved: %w", failed, total, err)
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d tiles failed", failed, total)
	}
	return results, nil
}

func (f *Fetcher) fetchTile(ctx context.Context, spec domain.TileSpec) Result {
	res := Result{Spec: spec, Path: spec.Path}
	start := f.clock.Now()

	if !f.opts.Overwrite {
		if err := VerifyRasterFile(spec.Path); err == nil {
			f.logger.Debug("tile verified on disk, skipping download", "tile", spec.ID(), "path", spec.Path)
			f.metrics.TilesFetched.WithLabelValues(spec.Service, string(OutcomeSkipped)).Inc()
			res.Skipped = true
			return res
		}
	}

	backoff := f.opts.InitialBackoff
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		data, err := f.downloader.DownloadTile(ctx, spec)
		if err == nil {
			err = VerifyRasterBytes(data)
		}
		if err == nil {
			if err = writeTile(spec.Path, data); err == nil {
				f.metrics.TilesFetched.WithLabelValues(spec.Service, string(OutcomeSuccess)).Inc()
				f.metrics.TileBytes.Observe(float64(len(data)))
				f.metrics.TileFetchDuration.WithLabelValues(spec.Service).Observe(f.clock.Since(start).Seconds())
				return res
			}
		}

		if IsPermanent(err) || ctx.Err() != nil || attempt >= f.opts.MaxRetries {
			f.logger.Warn("tile fetch failed",
				"tile", spec.ID(),
				"attempts", res.Attempts,
				"permanent", IsPermanent(err),
				"error", err,
			)
			f.metrics.TilesFetched.WithLabelValues(spec.Service, string(OutcomeFailed)).Inc()
			res.Err = fmt.Errorf("tile %s: %w", spec.ID(), err)
			return res
		}

		f.logger.Debug("transient tile fetch failure, backing off",
			"tile", spec.ID(), "attempt", res.Attempts, "backoff", backoff, "error", err)
		f.metrics.FetchRetries.WithLabelValues(spec.Service).Inc()
		if !f.sleep(ctx, backoff) {
			res.Err = fmt.Errorf("tile %s: %w", spec.ID(), ctx.Err())
			return res
		}
		backoff = nextBackoff(backoff, f.opts.MaxBackoff)
	}
}

// writeTile lands tile bytes via a temp file and rename so a crash or
// cancellation never leaves a plausible-looking partial tile at the
// final path.
func writeTile(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tile: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize tile: %w", err)
	}
	return nil
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) bool {
	timer := f.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func outcomeOf(res Result) Outcome {
	switch {
	case res.Err != nil:
		return OutcomeFailed
	case res.Skipped:
		return OutcomeSkipped
	default:
		return OutcomeSuccess
	}
}
