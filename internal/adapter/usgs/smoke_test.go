//go:build usgs

package usgs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
)

// These tests hit the real National Map endpoints.
// Run with: go test -tags=usgs ./internal/adapter/usgs/ -v -count=1

func smokeClient() *Client {
	return NewClient(domain.DefaultCatalog(), 60*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_ExportElevation(t *testing.T) {
	// A small box over Devils Tower, WY.
	spec := domain.TileSpec{
		Box: domain.BoundingBox{
			Min: orb.Point{-104.72, 44.58},
			Max: orb.Point{-104.70, 44.60},
			CRS: domain.CRSWGS84,
		},
		Service:    "elevation",
		Format:     "tiff",
		Resolution: 0.0001,
	}

	data, err := smokeClient().DownloadTile(context.Background(), spec)
	require.NoError(t, err)
	require.NoError(t, fetch.VerifyRasterBytes(data))
	assert.Greater(t, len(data), 1024)
}
