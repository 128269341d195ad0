// Package tilesource renders map tiles and answers pixel queries from
// converted rasters. A TileSource is a per-request handle: it wraps one open
// raster file and is never shared across requests.
package tilesource

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"os"

	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/cog"
	"github.com/climsite/tile-engine/internal/style"
)

// ErrTileOutOfRange marks tile coordinates outside the raster's valid
// zoom/tile range. Handlers surface it as a client validation error.
var ErrTileOutOfRange = eris.New("tilesource: tile coordinates out of range")

// ErrRasterNotFound marks a converted raster file missing on disk.
var ErrRasterNotFound = eris.New("tilesource: raster file not found")

// Format selects the tile image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
)

// MimeType returns the MIME type for the format.
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatGIF:
		return "image/gif"
	default:
		return "image/png"
	}
}

// ParseFormat validates a format query parameter, defaulting to PNG.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "gif":
		return FormatGIF, nil
	default:
		return "", eris.Errorf("tilesource: unsupported image format %q", s)
	}
}

// Options configures a TileSource.
type Options struct {
	Style  *style.RasterStyle // nil = raw band values, grayscale
	Format Format
}

// TileSource answers tile and pixel queries over one converted raster.
type TileSource struct {
	raster *cog.Raster
	lut    *style.LUT
	min    float64
	max    float64
	format Format
}

// New opens a raster file and prepares the style lookup table.
func New(path string, opts Options) (*TileSource, error) {
	if opts.Format == "" {
		opts.Format = FormatPNG
	}

	raster, err := cog.Open(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(ErrRasterNotFound, "%s", path)
		}
		return nil, err
	}

	ts := &TileSource{raster: raster, format: opts.Format}
	if opts.Style != nil {
		lut, err := style.BuildLUT(opts.Style)
		if err != nil {
			_ = raster.Close()
			return nil, err
		}
		ts.lut = lut
		ts.min = opts.Style.Min
		ts.max = opts.Style.Max
	}
	return ts, nil
}

// Close releases the raster handle.
func (ts *TileSource) Close() error {
	return ts.raster.Close()
}

// GetTile renders the 256×256 tile at (z, x, y) and returns the encoded
// image bytes and MIME type.
func (ts *TileSource) GetTile(z, x, y int) ([]byte, string, error) {
	if z < 0 || z > MaxZoom {
		return nil, "", eris.Wrapf(ErrTileOutOfRange, "zoom %d", z)
	}
	if n := int(math.Exp2(float64(z))); x < 0 || x >= n || y < 0 || y >= n {
		return nil, "", eris.Wrapf(ErrTileOutOfRange, "tile %d/%d/%d", z, x, y)
	}

	west, east := tileLon(x, z), tileLon(x+1, z)
	north, south := tileLat(y, z), tileLat(y+1, z)

	b := ts.raster.Bounds()
	if east <= b.MinX || west >= b.MaxX || north <= b.MinY || south >= b.MaxY {
		return nil, "", eris.Wrapf(ErrTileOutOfRange, "tile %d/%d/%d outside raster extent", z, x, y)
	}

	// Source pixel window covering the tile envelope, padded by one pixel
	// so nearest-neighbor lookups at the seams stay inside the window.
	px0, py0 := ts.raster.GeoToPixel(west, north)
	px1, py1 := ts.raster.GeoToPixel(east, south)
	px0, py0 = px0-1, py0-1
	w, h := px1-px0+2, py1-py0+2

	window, err := ts.raster.Window(px0, py0, w, h)
	if err != nil {
		return nil, "", err
	}

	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	for j := 0; j < TileSize; j++ {
		// Rows are uniform in mercator space, not latitude.
		row := float64(y) + (float64(j)+0.5)/TileSize
		lat := rowLat(row, z)
		for i := 0; i < TileSize; i++ {
			lon := west + (east-west)*(float64(i)+0.5)/TileSize

			sx, sy := ts.raster.GeoToPixel(lon, lat)
			sx, sy = clampIdx(sx-px0, w), clampIdx(sy-py0, h)

			v := window[sy*w+sx]
			img.SetNRGBA(i, j, ts.colorize(v))
		}
	}

	return encodeTile(img, ts.format)
}

// GetPixel returns the raw raster value at a geographic coordinate, or nil
// when the point is outside the raster or hits no-data.
func (ts *TileSource) GetPixel(lon, lat float64) (*float64, error) {
	px, py := ts.raster.GeoToPixel(lon, lat)
	v, ok, err := ts.raster.Value(px, py)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// colorize maps one raster sample to an output color.
func (ts *TileSource) colorize(v float64) color.NRGBA {
	if math.IsNaN(v) {
		return color.NRGBA{} // transparent
	}

	if ts.lut == nil {
		// Raw pass-through: clamp into the 8-bit gray range.
		g := uint8(math.Max(0, math.Min(255, v)))
		return color.NRGBA{R: g, G: g, B: g, A: 0xff}
	}

	// Linear rescale into the LUT index domain.
	var idx int
	if span := ts.max - ts.min; span > 0 {
		idx = int(math.Round((v - ts.min) * 254 / span))
	}
	return ts.lut.At(idx)
}

func encodeTile(img *image.NRGBA, format Format) ([]byte, string, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, nil)
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, "", eris.Wrapf(err, "tilesource: encode %s tile", format)
	}
	return buf.Bytes(), format.MimeType(), nil
}

func clampIdx(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
