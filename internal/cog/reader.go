// Package cog reads tiled GeoTIFF ("Cloud-Optimized") rasters: single-band
// files organized into fixed-size deflate-compressed tiles, as produced by
// the raster conversion pipeline.
package cog

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Bounds is the geographic extent of a raster in its native CRS.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Raster is an open handle over one tiled GeoTIFF. A Raster is scoped to a
// single request and must not be shared across goroutines.
type Raster struct {
	f         *os.File
	byteOrder binary.ByteOrder

	width, height         uint32
	tileWidth, tileLength uint32
	tilesAcross           int

	tileOffsets    []uint64
	tileByteCounts []uint64

	bitsPerSample uint16
	sampleFormat  uint16
	compression   uint16
	predictor     uint16

	pixelScaleX float64
	pixelScaleY float64 // negative for north-up images
	originX     float64
	originY     float64

	noData    float64
	hasNoData bool
}

// Open parses the header and first IFD of a tiled GeoTIFF.
func Open(path string) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "cog: open %s", path)
	}

	r, err := newRaster(f)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "cog: parse %s", path)
	}
	return r, nil
}

func newRaster(f *os.File) (*Raster, error) {
	tags, h, err := readTags(f)
	if err != nil {
		return nil, err
	}

	r := &Raster{f: f, byteOrder: h.byteOrder}

	required := []struct {
		tag  uint16
		name string
		dst  *uint32
	}{
		{tagImageWidth, "ImageWidth", &r.width},
		{tagImageLength, "ImageLength", &r.height},
		{tagTileWidth, "TileWidth", &r.tileWidth},
		{tagTileLength, "TileLength", &r.tileLength},
	}
	for _, req := range required {
		v, ok := tags[req.tag].firstUint()
		if !ok {
			return nil, eris.Errorf("cog: missing tag %s (not a tiled raster?)", req.name)
		}
		*req.dst = uint32(v)
	}
	r.tilesAcross = int(r.width+r.tileWidth-1) / int(r.tileWidth)

	if v, ok := tags[tagBitsPerSample].firstUint(); ok {
		r.bitsPerSample = uint16(v)
	} else {
		r.bitsPerSample = 32
	}
	if v, ok := tags[tagSampleFormat].firstUint(); ok {
		r.sampleFormat = uint16(v)
	} else {
		r.sampleFormat = sampleFormatUint
	}
	if v, ok := tags[tagCompression].firstUint(); ok {
		r.compression = uint16(v)
	} else {
		r.compression = compressionNone
	}
	if v, ok := tags[tagPredictor].firstUint(); ok {
		r.predictor = uint16(v)
	} else {
		r.predictor = predictorNone
	}

	if offsets := tags[tagTileOffsets].uints; len(offsets) > 0 {
		r.tileOffsets = offsets
	} else {
		return nil, eris.New("cog: missing tag TileOffsets")
	}
	if counts := tags[tagTileByteCounts].uints; len(counts) > 0 {
		r.tileByteCounts = counts
	} else {
		return nil, eris.New("cog: missing tag TileByteCounts")
	}

	scale := tags[tagModelPixelScale].doubles
	if len(scale) < 2 {
		return nil, eris.New("cog: missing tag ModelPixelScale")
	}
	r.pixelScaleX = scale[0]
	r.pixelScaleY = scale[1]
	if r.pixelScaleY > 0 {
		r.pixelScaleY = -r.pixelScaleY
	}

	tie := tags[tagModelTiepoint].doubles
	if len(tie) < 6 {
		return nil, eris.New("cog: missing tag ModelTiepoint")
	}
	// Tiepoint maps raster position (I, J) to model position (X, Y).
	r.originX = tie[3] - tie[0]*r.pixelScaleX
	r.originY = tie[4] - tie[1]*r.pixelScaleY

	if nd := strings.TrimSpace(tags[tagGDALNoData].ascii); nd != "" {
		if v, err := strconv.ParseFloat(nd, 64); err == nil {
			r.noData = v
			r.hasNoData = true
		}
	}

	return r, nil
}

// Close releases the underlying file handle.
func (r *Raster) Close() error {
	return r.f.Close()
}

// Width returns the raster width in pixels.
func (r *Raster) Width() int { return int(r.width) }

// Height returns the raster height in pixels.
func (r *Raster) Height() int { return int(r.height) }

// NoData returns the declared no-data value, if any.
func (r *Raster) NoData() (float64, bool) { return r.noData, r.hasNoData }

// Bounds returns the geographic extent of the raster.
func (r *Raster) Bounds() Bounds {
	maxY := r.originY
	minY := r.originY + float64(r.height)*r.pixelScaleY
	return Bounds{
		MinX: r.originX,
		MinY: minY,
		MaxX: r.originX + float64(r.width)*r.pixelScaleX,
		MaxY: maxY,
	}
}

// GeoToPixel converts a native-CRS coordinate to pixel indices. The result
// may lie outside the raster; callers check against Width/Height.
func (r *Raster) GeoToPixel(x, y float64) (int, int) {
	px := int(math.Floor((x - r.originX) / r.pixelScaleX))
	py := int(math.Floor((y - r.originY) / r.pixelScaleY))
	return px, py
}

// PixelToGeo returns the native-CRS coordinate of a pixel's upper-left corner.
func (r *Raster) PixelToGeo(px, py int) (float64, float64) {
	return r.originX + float64(px)*r.pixelScaleX, r.originY + float64(py)*r.pixelScaleY
}

// Value returns the sample at (px, py), or NaN with ok=false for no-data or
// out-of-image pixels.
func (r *Raster) Value(px, py int) (float64, bool, error) {
	if px < 0 || px >= int(r.width) || py < 0 || py >= int(r.height) {
		return math.NaN(), false, nil
	}

	tileX := px / int(r.tileWidth)
	tileY := py / int(r.tileLength)
	tile, err := r.readTile(tileY*r.tilesAcross + tileX)
	if err != nil {
		return 0, false, err
	}

	idx := (py%int(r.tileLength))*int(r.tileWidth) + px%int(r.tileWidth)
	if idx >= len(tile) {
		return math.NaN(), false, nil
	}

	v := tile[idx]
	if math.IsNaN(v) || (r.hasNoData && v == r.noData) {
		return math.NaN(), false, nil
	}
	return v, true, nil
}

// Window reads a w×h pixel window starting at (px, py) into a row-major
// float64 slice. Pixels outside the raster, and no-data pixels, are NaN.
func (r *Raster) Window(px, py, w, h int) ([]float64, error) {
	out := make([]float64, w*h)
	for i := range out {
		out[i] = math.NaN()
	}

	// Clip the window to the raster.
	x0, y0 := max(px, 0), max(py, 0)
	x1, y1 := min(px+w, int(r.width)), min(py+h, int(r.height))
	if x0 >= x1 || y0 >= y1 {
		return out, nil
	}

	// Visit every source tile the clipped window overlaps.
	for tileY := y0 / int(r.tileLength); tileY <= (y1-1)/int(r.tileLength); tileY++ {
		for tileX := x0 / int(r.tileWidth); tileX <= (x1-1)/int(r.tileWidth); tileX++ {
			tile, err := r.readTile(tileY*r.tilesAcross + tileX)
			if err != nil {
				return nil, err
			}

			tx0 := tileX * int(r.tileWidth)
			ty0 := tileY * int(r.tileLength)

			cx0, cy0 := max(x0, tx0), max(y0, ty0)
			cx1 := min(x1, tx0+int(r.tileWidth))
			cy1 := min(y1, ty0+int(r.tileLength))

			for y := cy0; y < cy1; y++ {
				srcRow := (y - ty0) * int(r.tileWidth)
				dstRow := (y - py) * w
				for x := cx0; x < cx1; x++ {
					v := tile[srcRow+(x-tx0)]
					if r.hasNoData && v == r.noData {
						continue
					}
					out[dstRow+(x-px)] = v
				}
			}
		}
	}

	return out, nil
}

// readTile fetches, decompresses and decodes one tile into float64 samples.
func (r *Raster) readTile(tileNum int) ([]float64, error) {
	if tileNum < 0 || tileNum >= len(r.tileOffsets) {
		return nil, eris.Errorf("cog: tile index %d out of bounds", tileNum)
	}

	raw := make([]byte, r.tileByteCounts[tileNum])
	if _, err := r.f.ReadAt(raw, int64(r.tileOffsets[tileNum])); err != nil {
		return nil, eris.Wrapf(err, "cog: read tile %d", tileNum)
	}

	var data []byte
	switch r.compression {
	case compressionNone:
		data = raw
	case compressionDeflate:
		z, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "cog: open deflate stream for tile %d", tileNum)
		}
		data, err = io.ReadAll(z)
		_ = z.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "cog: decompress tile %d", tileNum)
		}
	default:
		return nil, eris.Errorf("cog: unsupported compression %d", r.compression)
	}

	return r.decodeSamples(data)
}

func (r *Raster) decodeSamples(data []byte) ([]float64, error) {
	reader := bytes.NewReader(data)

	switch {
	case r.sampleFormat == sampleFormatFloat && r.bitsPerSample == 32:
		vals := make([]float32, len(data)/4)
		if err := binary.Read(reader, r.byteOrder, &vals); err != nil {
			return nil, eris.Wrap(err, "cog: decode float32 samples")
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil

	case r.sampleFormat == sampleFormatFloat && r.bitsPerSample == 64:
		out := make([]float64, len(data)/8)
		if err := binary.Read(reader, r.byteOrder, &out); err != nil {
			return nil, eris.Wrap(err, "cog: decode float64 samples")
		}
		return out, nil

	case r.sampleFormat == sampleFormatInt && r.bitsPerSample == 16:
		vals := make([]int16, len(data)/2)
		if err := binary.Read(reader, r.byteOrder, &vals); err != nil {
			return nil, eris.Wrap(err, "cog: decode int16 samples")
		}
		undoHorizontalPredictor(vals, r.predictor, int(r.tileWidth))
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil

	case r.sampleFormat == sampleFormatInt && r.bitsPerSample == 32:
		vals := make([]int32, len(data)/4)
		if err := binary.Read(reader, r.byteOrder, &vals); err != nil {
			return nil, eris.Wrap(err, "cog: decode int32 samples")
		}
		undoHorizontalPredictor(vals, r.predictor, int(r.tileWidth))
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil

	case r.sampleFormat == sampleFormatUint && r.bitsPerSample == 8:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil

	case r.sampleFormat == sampleFormatUint && r.bitsPerSample == 16:
		vals := make([]uint16, len(data)/2)
		if err := binary.Read(reader, r.byteOrder, &vals); err != nil {
			return nil, eris.Wrap(err, "cog: decode uint16 samples")
		}
		undoHorizontalPredictor(vals, r.predictor, int(r.tileWidth))
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = float64(v)
		}
		return out, nil

	default:
		return nil, eris.Errorf("cog: unsupported sample layout (format %d, %d bits)", r.sampleFormat, r.bitsPerSample)
	}
}

// undoHorizontalPredictor reverses horizontal differencing in place.
func undoHorizontalPredictor[T int16 | int32 | uint16](data []T, predictor uint16, tileWidth int) {
	if predictor != predictorHorizontal || tileWidth == 0 {
		return
	}
	for rowStart := 0; rowStart+tileWidth <= len(data); rowStart += tileWidth {
		for x := 1; x < tileWidth; x++ {
			data[rowStart+x] += data[rowStart+x-1]
		}
	}
}
