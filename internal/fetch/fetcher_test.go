package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func pngPayload(tag string) []byte {
	return append(append([]byte{}, pngHeader...), []byte(tag)...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testPlan builds an n-column single-service plan with paths in dir.
func testPlan(t *testing.T, dir string, cols int) domain.TilePlan {
	t.Helper()
	box := domain.BoundingBox{
		Min: orb.Point{0, 0},
		Max: orb.Point{float64(cols) * 0.1, 0.1},
		CRS: domain.CRSWGS84,
	}
	// maxTileSide = sqrt(10000)*0.001 = 0.1 -> one column per 0.1 deg.
	plan, err := domain.Plan(box, 0.001, []domain.Service{{Name: "elevation", Format: "png"}}, 10000, dir)
	require.NoError(t, err)
	require.Len(t, plan.Tiles, cols)
	return plan
}

// fakeDownloader scripts per-tile behavior and records calls.
type fakeDownloader struct {
	mu       sync.Mutex
	calls    map[string]int
	failWith map[string]error // permanent failures
	flaky    map[string]int   // transient failures before success

	inFlight      atomic.Int64
	maxInFlight   atomic.Int64
	downloadDelay time.Duration
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{
		calls:    map[string]int{},
		failWith: map[string]error{},
		flaky:    map[string]int{},
	}
}

func (d *fakeDownloader) DownloadTile(_ context.Context, spec domain.TileSpec) ([]byte, error) {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		prev := d.maxInFlight.Load()
		if cur <= prev || d.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if d.downloadDelay > 0 {
		time.Sleep(d.downloadDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := spec.ID()
	d.calls[id]++
	if err, ok := d.failWith[id]; ok {
		return nil, err
	}
	if d.flaky[id] > 0 {
		d.flaky[id]--
		return nil, errors.New("connection reset")
	}
	return pngPayload(id), nil
}

func (d *fakeDownloader) callCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

// eventRecorder is a ProgressSink collecting events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) TileCompleted(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

func newTestFetcher(d Downloader, opts Options) *Fetcher {
	return New(d, clockwork.NewRealClock(), discardLogger(), observability.NewMetricsForTesting(), opts)
}

func TestFetch_HappyPath(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 3)
	dl := newFakeDownloader()
	sink := &eventRecorder{}

	results, err := newTestFetcher(dl, Options{MaxConcurrency: 2}).Fetch(context.Background(), plan, sink)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, plan.Tiles[i].ID(), res.Spec.ID(), "results keep plan order")
		assert.True(t, res.Succeeded())
		assert.False(t, res.Skipped)
		assert.Equal(t, 1, res.Attempts)

		data, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.Equal(t, pngPayload(res.Spec.ID()), data)
	}

	events := sink.all()
	require.Len(t, events, 3)
	completed := map[int]bool{}
	for _, e := range events {
		assert.Equal(t, OutcomeSuccess, e.Outcome)
		assert.Equal(t, 3, e.Total)
		completed[e.Completed] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, completed)
}

func TestFetch_ConcurrencyIsBounded(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 8)
	dl := newFakeDownloader()
	dl.downloadDelay = 10 * time.Millisecond

	_, err := newTestFetcher(dl, Options{MaxConcurrency: 2}).Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, dl.maxInFlight.Load(), int64(2))
}

func TestFetch_PermanentFailureIsNotRetried(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 4)
	dl := newFakeDownloader()
	failing := plan.Tiles[0].ID()
	dl.failWith[failing] = Permanent(errors.New("status 404"))
	sink := &eventRecorder{}

	results, err := newTestFetcher(dl, Options{MaxRetries: 5, InitialBackoff: time.Millisecond}).
		Fetch(context.Background(), plan, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 4 tiles failed")

	assert.False(t, results[0].Succeeded())
	assert.True(t, IsPermanent(results[0].Err))
	assert.Equal(t, 1, results[0].Attempts, "no retry for a permanent failure")
	assert.Equal(t, 1, dl.callCount(failing))
	for _, res := range results[1:] {
		assert.True(t, res.Succeeded())
	}

	var failedEvents int
	for _, e := range sink.all() {
		if e.Outcome == OutcomeFailed {
			failedEvents++
			assert.Equal(t, failing, e.TileID)
		}
	}
	assert.Equal(t, 1, failedEvents)
}

func TestFetch_TransientFailureRetriesThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := newFakeDownloader()
	dl.flaky[plan.Tiles[0].ID()] = 2

	results, err := newTestFetcher(dl, Options{MaxRetries: 3, InitialBackoff: time.Millisecond}).
		Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.True(t, results[0].Succeeded())
	assert.Equal(t, 3, results[0].Attempts)
}

func TestFetch_RetriesExhausted(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := newFakeDownloader()
	dl.flaky[plan.Tiles[0].ID()] = 100

	results, err := newTestFetcher(dl, Options{MaxRetries: 2, InitialBackoff: time.Millisecond}).
		Fetch(context.Background(), plan, nil)
	require.Error(t, err)

	assert.False(t, results[0].Succeeded())
	assert.False(t, IsPermanent(results[0].Err))
	assert.Equal(t, 3, results[0].Attempts, "initial try plus two retries")
}

func TestFetch_BackoffUsesInjectedClock(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := newFakeDownloader()
	dl.flaky[plan.Tiles[0].ID()] = 1

	clock := clockwork.NewFakeClock()
	f := New(dl, clock, discardLogger(), observability.NewMetricsForTesting(),
		Options{MaxConcurrency: 1, MaxRetries: 1, InitialBackoff: 30 * time.Second})

	done := make(chan []Result, 1)
	go func() {
		results, _ := f.Fetch(context.Background(), plan, nil)
		done <- results
	}()

	// The single worker must be parked on the backoff timer.
	clock.BlockUntil(1)
	clock.Advance(30 * time.Second)

	select {
	case results := <-done:
		assert.True(t, results[0].Succeeded())
		assert.Equal(t, 2, results[0].Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not finish after advancing the clock")
	}
}

func TestFetch_EmptyPayloadIsPermanentFailure(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := &scriptedDownloader{data: []byte{}}

	results, err := newTestFetcher(dl, Options{MaxRetries: 3, InitialBackoff: time.Millisecond}).
		Fetch(context.Background(), plan, nil)
	require.Error(t, err)

	assert.True(t, IsPermanent(results[0].Err))
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, 1, dl.calls)
	assert.NoFileExists(t, results[0].Path)
}

func TestFetch_BadSignatureIsPermanentFailure(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := &scriptedDownloader{data: []byte(`{"error":{"code":400}}`)}

	results, err := newTestFetcher(dl, Options{MaxRetries: 3, InitialBackoff: time.Millisecond}).
		Fetch(context.Background(), plan, nil)
	require.Error(t, err)

	assert.True(t, IsPermanent(results[0].Err))
	assert.NoFileExists(t, results[0].Path)
}

type scriptedDownloader struct {
	data  []byte
	calls int
}

func (d *scriptedDownloader) DownloadTile(context.Context, domain.TileSpec) ([]byte, error) {
	d.calls++
	return d.data, nil
}

func TestFetch_IdempotentRerunSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 3)
	dl := newFakeDownloader()
	f := newTestFetcher(dl, Options{})

	first, err := f.Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	second, err := f.Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	for i, res := range second {
		assert.True(t, res.Skipped, "rerun must skip verified tiles")
		assert.Equal(t, first[i].Path, res.Path)
		assert.Equal(t, 1, dl.callCount(res.Spec.ID()), "one network call across both runs")
	}
}

func TestFetch_CorruptExistingFileIsRefetched(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	require.NoError(t, os.WriteFile(plan.Tiles[0].Path, []byte("truncated-garbage"), 0o644))

	dl := newFakeDownloader()
	results, err := newTestFetcher(dl, Options{}).Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.False(t, results[0].Skipped)
	assert.Equal(t, 1, dl.callCount(plan.Tiles[0].ID()))
	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, pngPayload(plan.Tiles[0].ID()), data)
}

func TestFetch_OverwriteForcesRefetch(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 1)
	dl := newFakeDownloader()

	f := newTestFetcher(dl, Options{Overwrite: true})
	_, err := f.Fetch(context.Background(), plan, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), plan, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, dl.callCount(plan.Tiles[0].ID()))
}

func TestFetch_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	plan := testPlan(t, dir, 4)
	dl := newFakeDownloader()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := newTestFetcher(dl, Options{}).Fetch(ctx, plan, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 4, "every tile still gets a result")
}

func TestFetch_EmptyPlan(t *testing.T) {
	_, err := newTestFetcher(newFakeDownloader(), Options{}).
		Fetch(context.Background(), domain.TilePlan{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestVerifyRasterBytes(t *testing.T) {
	assert.NoError(t, VerifyRasterBytes(pngPayload("x")))
	assert.NoError(t, VerifyRasterBytes([]byte{'I', 'I', '*', 0, 1, 2}))
	assert.NoError(t, VerifyRasterBytes([]byte{'M', 'M', 0, '*', 1, 2}))
	assert.NoError(t, VerifyRasterBytes([]byte{0xff, 0xd8, 0xff, 0xe0}))

	err := VerifyRasterBytes(nil)
	assert.True(t, IsPermanent(err))
	err = VerifyRasterBytes([]byte("<html>503</html>"))
	assert.True(t, IsPermanent(err))
}

func TestVerifyRasterFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	require.NoError(t, os.WriteFile(good, pngPayload("ok"), 0o644))
	assert.NoError(t, VerifyRasterFile(good))

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("partial"), 0o644))
	assert.Error(t, VerifyRasterFile(bad))

	assert.Error(t, VerifyRasterFile(filepath.Join(dir, "missing.png")))
}

func TestPermanentWrapping(t *testing.T) {
	base := fmt.Errorf("status %d", 404)
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorContains(t, err, "404")
	assert.False(t, IsPermanent(errors.New("timeout")))
	assert.NoError(t, Permanent(nil))
}
