// Package style maps scalar raster values to colors and legends.
package style

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// ThresholdRow is one entry of a custom ordered threshold table.
type ThresholdRow struct {
	Threshold float64 `json:"threshold"`
	Color     string  `json:"color"`
	Label     string  `json:"label,omitempty"`
}

// RasterStyle defines the color mapping for a raster layer: either a flat
// interpolated palette over [min, max] or a custom ordered threshold table
// with a catch-all color above the highest threshold.
type RasterStyle struct {
	ID              int            `json:"id"`
	Name            string         `json:"name"`
	Min             float64        `json:"min"`
	Max             float64        `json:"max"`
	Steps           int            `json:"steps,omitempty"`
	Palette         []string       `json:"palette,omitempty"`
	UseCustomColors bool           `json:"use_custom_colors"`
	CustomRows      []ThresholdRow `json:"custom_rows,omitempty"`
	RestColor       string         `json:"rest_color,omitempty"`
	CreatedAt       time.Time      `json:"created_at,omitzero"`
	UpdatedAt       time.Time      `json:"updated_at,omitzero"`
}

// Validate checks the style invariants.
func (s *RasterStyle) Validate() error {
	if s.Max <= s.Min {
		return eris.Errorf("style: max (%g) must be greater than min (%g)", s.Max, s.Min)
	}
	if s.UseCustomColors {
		if len(s.CustomRows) == 0 {
			return eris.New("style: custom colors require at least one threshold row")
		}
		for _, row := range s.CustomRows {
			if row.Threshold < s.Min || row.Threshold > s.Max {
				return eris.Errorf("style: threshold %g outside [%g, %g]", row.Threshold, s.Min, s.Max)
			}
			if _, err := ParseColor(row.Color); err != nil {
				return err
			}
		}
		if s.RestColor != "" {
			if _, err := ParseColor(s.RestColor); err != nil {
				return err
			}
		}
		return nil
	}
	if len(s.Palette) == 0 {
		return eris.New("style: palette must not be empty")
	}
	for _, c := range s.Palette {
		if _, err := ParseColor(c); err != nil {
			return err
		}
	}
	return nil
}

// sortedRows returns the custom rows ordered by ascending threshold.
func (s *RasterStyle) sortedRows() []ThresholdRow {
	rows := make([]ThresholdRow, len(s.CustomRows))
	copy(rows, s.CustomRows)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Threshold < rows[j].Threshold
	})
	return rows
}

// ParseJSON decodes an inline style parameter as passed on tile requests.
func ParseJSON(raw []byte) (*RasterStyle, error) {
	var s RasterStyle
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, eris.Wrap(err, "style: decode style JSON")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
