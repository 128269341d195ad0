// Package cogtest writes minimal tiled GeoTIFF fixtures for tests.
package cogtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TIFF constants mirrored from the reader; the writer is deliberately
// independent so fixture bugs and reader bugs cannot cancel out.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGDALNoData      = 42113

	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12

	sampleFormatFloat = 3
)

// Spec describes a synthetic single-band float32 tiled GeoTIFF.
type Spec struct {
	Width, Height int
	TileSize      int
	Values        []float32 // row-major, len = Width*Height
	NoData        string    // GDAL_NODATA ascii, "" to omit
	Deflate       bool
	OriginX       float64
	OriginY       float64
	PixelScale    float64
}

// Gradient returns a 32×32 raster whose value at (x, y) is y*32+x, covering
// lon [0,32], lat [-32,0] at 1 degree per pixel.
func Gradient(deflate bool) Spec {
	values := make([]float32, 32*32)
	for i := range values {
		values[i] = float32(i)
	}
	return Spec{
		Width: 32, Height: 32, TileSize: 16,
		Values:     values,
		Deflate:    deflate,
		OriginX:    0, OriginY: 0,
		PixelScale: 1,
	}
}

// Global returns a world-covering raster (lon [-180,180], lat [-90,90]) of
// the given pixel dimensions filled with a constant value.
func Global(width, height int, value float32) Spec {
	values := make([]float32, width*height)
	for i := range values {
		values[i] = value
	}
	return Spec{
		Width: width, Height: height, TileSize: 16,
		Values:     values,
		OriginX:    -180, OriginY: 90,
		PixelScale: 360.0 / float64(width),
	}
}

type entry struct {
	tag, ftype uint16
	count      uint32
	value      []byte
}

// Write assembles a minimal little-endian tiled GeoTIFF at path.
func Write(t *testing.T, path string, spec Spec) {
	t.Helper()

	bo := binary.LittleEndian
	tilesAcross := (spec.Width + spec.TileSize - 1) / spec.TileSize
	tilesDown := (spec.Height + spec.TileSize - 1) / spec.TileSize
	numTiles := tilesAcross * tilesDown

	// Encode each tile, padding edge tiles with NaN.
	tiles := make([][]byte, numTiles)
	for ty := 0; ty < tilesDown; ty++ {
		for tx := 0; tx < tilesAcross; tx++ {
			var buf bytes.Buffer
			for y := 0; y < spec.TileSize; y++ {
				for x := 0; x < spec.TileSize; x++ {
					px := tx*spec.TileSize + x
					py := ty*spec.TileSize + y
					v := float32(math.NaN())
					if px < spec.Width && py < spec.Height {
						v = spec.Values[py*spec.Width+px]
					}
					require.NoError(t, binary.Write(&buf, bo, v))
				}
			}
			data := buf.Bytes()
			if spec.Deflate {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				_, err := zw.Write(data)
				require.NoError(t, err)
				require.NoError(t, zw.Close())
				data = z.Bytes()
			}
			tiles[ty*tilesAcross+tx] = data
		}
	}

	compression := uint16(1)
	if spec.Deflate {
		compression = 8
	}

	shortEntry := func(tag uint16, v uint16) entry {
		b := make([]byte, 2)
		bo.PutUint16(b, v)
		return entry{tag: tag, ftype: typeShort, count: 1, value: b}
	}
	doubleEntry := func(tag uint16, vs ...float64) entry {
		var buf bytes.Buffer
		for _, v := range vs {
			_ = binary.Write(&buf, bo, v)
		}
		return entry{tag: tag, ftype: typeDouble, count: uint32(len(vs)), value: buf.Bytes()}
	}

	entries := []entry{
		shortEntry(tagImageWidth, uint16(spec.Width)),
		shortEntry(tagImageLength, uint16(spec.Height)),
		shortEntry(tagBitsPerSample, 32),
		shortEntry(tagCompression, compression),
		shortEntry(tagTileWidth, uint16(spec.TileSize)),
		shortEntry(tagTileLength, uint16(spec.TileSize)),
		{tag: tagTileOffsets, ftype: typeLong, count: uint32(numTiles)},
		{tag: tagTileByteCounts, ftype: typeLong, count: uint32(numTiles)},
		shortEntry(tagSampleFormat, sampleFormatFloat),
		doubleEntry(tagModelPixelScale, spec.PixelScale, spec.PixelScale, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, spec.OriginX, spec.OriginY, 0),
	}
	if spec.NoData != "" {
		nd := append([]byte(spec.NoData), 0)
		entries = append(entries, entry{tag: tagGDALNoData, ftype: typeASCII, count: uint32(len(nd)), value: nd})
	}

	// Layout: 8-byte header, IFD, external value area, tile arrays, tile data.
	ifdOffset := uint32(8)
	ifdSize := uint32(2 + len(entries)*12 + 4)
	valueOffset := ifdOffset + ifdSize

	external := make(map[uint16]uint32)
	off := valueOffset
	for _, e := range entries {
		if len(e.value) > 4 {
			external[e.tag] = off
			off += uint32(len(e.value))
		}
	}
	tileOffsetsPos := off
	off += uint32(numTiles * 4)
	tileCountsPos := off
	off += uint32(numTiles * 4)

	tileOffsets := make([]uint32, numTiles)
	tileCounts := make([]uint32, numTiles)
	pos := off
	for i, data := range tiles {
		tileOffsets[i] = pos
		tileCounts[i] = uint32(len(data))
		pos += uint32(len(data))
	}

	var out bytes.Buffer
	out.Write([]byte{0x49, 0x49})
	_ = binary.Write(&out, bo, uint16(42))
	_ = binary.Write(&out, bo, ifdOffset)

	_ = binary.Write(&out, bo, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&out, bo, e.tag)
		_ = binary.Write(&out, bo, e.ftype)
		_ = binary.Write(&out, bo, e.count)

		switch e.tag {
		case tagTileOffsets:
			_ = binary.Write(&out, bo, tileOffsetsPos)
		case tagTileByteCounts:
			_ = binary.Write(&out, bo, tileCountsPos)
		default:
			if len(e.value) > 4 {
				_ = binary.Write(&out, bo, external[e.tag])
			} else {
				padded := make([]byte, 4)
				copy(padded, e.value)
				out.Write(padded)
			}
		}
	}
	_ = binary.Write(&out, bo, uint32(0)) // next IFD

	for _, e := range entries {
		if len(e.value) > 4 && e.tag != tagTileOffsets && e.tag != tagTileByteCounts {
			out.Write(e.value)
		}
	}
	for _, v := range tileOffsets {
		_ = binary.Write(&out, bo, v)
	}
	for _, v := range tileCounts {
		_ = binary.Write(&out, bo, v)
	}
	for _, data := range tiles {
		out.Write(data)
	}

	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}
