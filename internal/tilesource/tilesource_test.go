package tilesource

import (
	"bytes"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climsite/tile-engine/internal/cog/cogtest"
	"github.com/climsite/tile-engine/internal/style"
)

func globalRaster(t *testing.T, value float32) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.tif")
	cogtest.Write(t, path, cogtest.Global(64, 32, value))
	return path
}

func TestNew_MissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "gone.tif"), Options{})
	assert.True(t, eris.Is(err, ErrRasterNotFound))
}

func TestGetTile_ReturnsPNG(t *testing.T) {
	ts, err := New(globalRaster(t, 42), Options{})
	require.NoError(t, err)
	defer ts.Close()

	data, mime, err := ts.GetTile(3, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, TileSize, img.Bounds().Dx())
	assert.Equal(t, TileSize, img.Bounds().Dy())
}

func TestGetTile_OutOfRange(t *testing.T) {
	ts, err := New(globalRaster(t, 1), Options{})
	require.NoError(t, err)
	defer ts.Close()

	for _, tc := range []struct{ z, x, y int }{
		{-1, 0, 0},
		{25, 0, 0},
		{3, 8, 0}, // x >= 2^z
		{3, 0, 8},
		{2, 0, -1},
	} {
		_, _, err := ts.GetTile(tc.z, tc.x, tc.y)
		assert.True(t, eris.Is(err, ErrTileOutOfRange), "tile %d/%d/%d", tc.z, tc.x, tc.y)
	}
}

func TestGetTile_Idempotent(t *testing.T) {
	path := globalRaster(t, 17)

	render := func() []byte {
		ts, err := New(path, Options{Format: FormatPNG})
		require.NoError(t, err)
		defer ts.Close()
		data, _, err := ts.GetTile(2, 1, 1)
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, render(), render(), "repeat renders must be byte-identical")
}

func TestGetTile_StyledColors(t *testing.T) {
	st := &style.RasterStyle{
		Name: "warn",
		Min:  0, Max: 30,
		UseCustomColors: true,
		CustomRows: []style.ThresholdRow{
			{Threshold: 10, Color: "#aaaaaa"},
			{Threshold: 20, Color: "#bbbbbb"},
		},
		RestColor: "#000000",
	}

	ts, err := New(globalRaster(t, 25), Options{Style: st})
	require.NoError(t, err)
	defer ts.Close()

	data, _, err := ts.GetTile(1, 0, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// Value 25 is above the highest threshold: every data pixel gets the
	// rest color.
	r, g, b, a := img.At(128, 128).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
	assert.Equal(t, uint32(0xffff), a)
}

func TestGetPixel(t *testing.T) {
	ts, err := New(globalRaster(t, 7), Options{})
	require.NoError(t, err)
	defer ts.Close()

	v, err := ts.GetPixel(10, 20)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 7.0, *v)

	// Outside the raster extent.
	v, err = ts.GetPixel(10, 95)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseFormat(t *testing.T) {
	for s, want := range map[string]Format{
		"":     FormatPNG,
		"png":  FormatPNG,
		"jpg":  FormatJPEG,
		"jpeg": FormatJPEG,
		"gif":  FormatGIF,
	} {
		got, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("webp")
	assert.Error(t, err)
}
