package mosaic

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/terrain-tile-service/internal/domain"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func solidRaster(t *testing.T, minX, minY, maxX, maxY, res float64, c color.NRGBA) *Raster {
	t.Helper()
	box := domain.BoundingBox{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}, CRS: domain.CRSWGS84}
	w := int((maxX - minX) / res)
	h := int((maxY - minY) / res)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return &Raster{Image: img, Box: box, Resolution: res}
}

func TestMerge_SideBySideTiles(t *testing.T) {
	left := solidRaster(t, 0, 0, 1, 1, 0.1, red)
	right := solidRaster(t, 1, 0, 2, 1, 0.1, green)

	out, err := Merge([]*Raster{left, right})
	require.NoError(t, err)

	assert.Equal(t, 20, out.Width())
	assert.Equal(t, 10, out.Height())
	assert.Equal(t, 0.0, out.Box.Min.X())
	assert.Equal(t, 2.0, out.Box.Max.X())

	assert.Equal(t, red, out.Image.NRGBAAt(3, 5))
	assert.Equal(t, green, out.Image.NRGBAAt(15, 5))
}

func TestMerge_QuadrantsCoverUnion(t *testing.T) {
	tiles := []*Raster{
		solidRaster(t, 0, 1, 1, 2, 0.1, red),   // NW
		solidRaster(t, 1, 1, 2, 2, 0.1, green), // NE
		solidRaster(t, 0, 0, 1, 1, 0.1, blue),  // SW
		solidRaster(t, 1, 0, 2, 1, 0.1, red),   // SE
	}

	out, err := Merge(tiles)
	require.NoError(t, err)

	assert.Equal(t, 20, out.Width())
	assert.Equal(t, 20, out.Height())
	assert.Equal(t, red, out.Image.NRGBAAt(5, 5), "NW")
	assert.Equal(t, green, out.Image.NRGBAAt(15, 5), "NE")
	assert.Equal(t, blue, out.Image.NRGBAAt(5, 15), "SW")
	assert.Equal(t, red, out.Image.NRGBAAt(15, 15), "SE")

	// No unclaimed pixels anywhere.
	for y := 0; y < out.Height(); y++ {
		for x := 0; x < out.Width(); x++ {
			require.NotZero(t, out.Image.NRGBAAt(x, y).A, "pixel (%d,%d) left empty", x, y)
		}
	}
}

func TestMerge_FirstTileWinsOnOverlap(t *testing.T) {
	a := solidRaster(t, 0, 0, 1, 1, 0.1, red)
	b := solidRaster(t, 0.5, 0, 1.5, 1, 0.1, green)

	ab, err := Merge([]*Raster{a, b})
	require.NoError(t, err)
	ba, err := Merge([]*Raster{b, a})
	require.NoError(t, err)

	// Overlap region is x in [0.5,1), i.e. pixels 5..9 of 15.
	assert.Equal(t, red, ab.Image.NRGBAAt(7, 5), "first input (a) wins")
	assert.Equal(t, green, ba.Image.NRGBAAt(7, 5), "first input (b) wins")

	// Outside the overlap the two orders agree.
	assert.Equal(t, ab.Image.NRGBAAt(2, 5), ba.Image.NRGBAAt(2, 5))
	assert.Equal(t, ab.Image.NRGBAAt(12, 5), ba.Image.NRGBAAt(12, 5))
}

func TestMerge_IncompatibleResolution(t *testing.T) {
	a := solidRaster(t, 0, 0, 1, 1, 0.1, red)
	b := solidRaster(t, 1, 0, 2, 1, 0.2, green)

	_, err := Merge([]*Raster{a, b})
	assert.ErrorIs(t, err, domain.ErrIncompatibleTiles)
}

func TestMerge_IncompatibleCRS(t *testing.T) {
	a := solidRaster(t, 0, 0, 1, 1, 0.1, red)
	b := solidRaster(t, 1, 0, 2, 1, 0.1, green)
	b.Box.CRS = "EPSG:3857"

	_, err := Merge([]*Raster{a, b})
	assert.ErrorIs(t, err, domain.ErrIncompatibleTiles)
}

func TestMerge_NoTiles(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}

func TestReadTile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "elevation_r0_c0.png")

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(1, 2, red)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	spec := domain.TileSpec{
		Box:        domain.BoundingBox{Min: orb.Point{0, 0}, Max: orb.Point{0.4, 0.4}, CRS: domain.CRSWGS84},
		Service:    "elevation",
		Resolution: 0.1,
		Path:       path,
	}
	raster, err := ReadTile(spec)
	require.NoError(t, err)

	assert.Equal(t, 4, raster.Width())
	assert.Equal(t, 4, raster.Height())
	assert.Equal(t, red, raster.Image.NRGBAAt(1, 2))
	assert.Equal(t, spec.Box, raster.Box)
}

func TestReadTile_MissingFile(t *testing.T) {
	_, err := ReadTile(domain.TileSpec{Path: filepath.Join(t.TempDir(), "nope.png")})
	assert.Error(t, err)
}
