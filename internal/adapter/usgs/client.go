// Package usgs downloads raster tiles from USGS National Map ArcGIS
// ImageServer endpoints.
package usgs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
)

// Client implements fetch.Downloader against the exportImage operation.
type Client struct {
	httpClient *http.Client
	catalog    domain.Catalog
	logger     *slog.Logger
}

// NewClient creates a National Map export client for the given catalog.
func NewClient(catalog domain.Catalog, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		catalog: catalog,
		logger:  logger,
	}
}

// DownloadTile requests the tile's bounding box at its planned pixel
// size. Server errors (5xx) and transport failures come back as plain
// errors so the fetcher retries them; client errors and malformed
// responses are marked permanent.
func (c *Client) DownloadTile(ctx context.Context, spec domain.TileSpec) ([]byte, error) {
	svc, ok := c.catalog[spec.Service]
	if !ok {
		return nil, fetch.Permanent(fmt.Errorf("%w: %q", domain.ErrUnknownService, spec.Service))
	}

	w, h := spec.PixelSize()
	params := url.Values{
		"bbox": {fmt.Sprintf("%.8f,%.8f,%.8f,%.8f",
			spec.Box.Min.X(), spec.Box.Min.Y(), spec.Box.Max.X(), spec.Box.Max.Y())},
		"bboxSR":  {"4326"},
		"imageSR": {"4326"},
		"size":    {fmt.Sprintf("%d,%d", w, h)},
		"format":  {svc.Format},
		"f":       {"image"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fetch.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", spec.ID(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export response for %s: %w", spec.ID(), err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("export %s: status %d", spec.ID(), resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fetch.Permanent(fmt.Errorf("export %s: status %d: %s",
			spec.ID(), resp.StatusCode, truncate(body, 200)))
	}

	// ArcGIS reports request errors as HTTP 200 with a JSON body even
	// when f=image was asked for.
	if isJSON(resp.Header.Get("Content-Type"), body) {
		return nil, fetch.Permanent(exportError(spec, body))
	}

	c.logger.Debug("tile exported", "tile", spec.ID(), "bytes", len(body), "size", fmt.Sprintf("%dx%d", w, h))
	return body, nil
}

// arcgisError is the JSON error envelope ImageServer returns.
type arcgisError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func exportError(spec domain.TileSpec, body []byte) error {
	var ae arcgisError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return fmt.Errorf("export %s rejected: code %d: %s", spec.ID(), ae.Error.Code, ae.Error.Message)
	}
	return fmt.Errorf("export %s returned JSON instead of raster bytes: %s", spec.ID(), truncate(body, 200))
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(contentType, "application/json") {
		return true
	}
	trimmed := strings.TrimSpace(string(truncate(body, 16)))
	return strings.HasPrefix(trimmed, "{")
}

func truncate(body []byte, n int) []byte {
	if len(body) <= n {
		return body
	}
	return body[:n]
}
