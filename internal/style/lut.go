package style

import (
	"image/color"

	"github.com/rotisserie/eris"
)

// LUT is a precomputed 256-entry color lookup table. Raster values are
// linearly rescaled to [0, 255] by the tile renderer before lookup, so
// colorization is a single array access per pixel.
type LUT [256]color.NRGBA

// At returns the color for a rescaled pixel index, clamping out-of-range
// indices into [0, 255].
func (l *LUT) At(i int) color.NRGBA {
	if i < 0 {
		i = 0
	}
	if i > 255 {
		i = 255
	}
	return l[i]
}

// BuildLUT precomputes the color table for the style. It is total over the
// full index domain: every entry gets exactly one color, even for degenerate
// ranges (min == max collapses every threshold onto index 0; buckets that
// would be empty are widened by one index so the fill always advances).
func BuildLUT(s *RasterStyle) (*LUT, error) {
	if s.UseCustomColors {
		return buildCustomLUT(s)
	}
	return buildPaletteLUT(s)
}

func buildCustomLUT(s *RasterStyle) (*LUT, error) {
	rows := s.sortedRows()
	if len(rows) == 0 {
		return nil, eris.New("style: custom style has no threshold rows")
	}

	var scale float64
	if span := s.Max - s.Min; span > 0 {
		scale = 254 / span
	}

	var lut LUT
	prev := -1 // highest index already assigned

	for _, row := range rows {
		c, err := ParseColor(row.Color)
		if err != nil {
			return nil, err
		}

		maxIdx := int((row.Threshold - s.Min) * scale)
		if maxIdx > 255 {
			maxIdx = 255
		}
		if maxIdx <= prev {
			maxIdx = prev + 1
		}

		for i := prev + 1; i <= maxIdx && i <= 255; i++ {
			lut[i] = c
		}
		prev = maxIdx
		if prev >= 255 {
			break
		}
	}

	// Everything above the last threshold gets the rest color. Fall back to
	// the last row's color when no rest color is configured.
	restHex := s.RestColor
	if restHex == "" {
		restHex = rows[len(rows)-1].Color
	}
	rest, err := ParseColor(restHex)
	if err != nil {
		return nil, err
	}
	for i := prev + 1; i <= 255; i++ {
		lut[i] = rest
	}

	return &lut, nil
}

func buildPaletteLUT(s *RasterStyle) (*LUT, error) {
	n := len(s.Palette)
	if n == 0 {
		return nil, eris.New("style: palette style has no colors")
	}

	colors := make([]color.NRGBA, n)
	for i, hex := range s.Palette {
		c, err := ParseColor(hex)
		if err != nil {
			return nil, err
		}
		colors[i] = c
	}

	var lut LUT
	for i := 0; i < 256; i++ {
		// Split the index range evenly across the palette entries.
		lut[i] = colors[i*n/256]
	}
	return &lut, nil
}
