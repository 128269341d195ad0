package style

import "strconv"

// LegendEntry is one human-readable key of a style legend.
type LegendEntry struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Legend builds the legend for a custom-threshold style. Styles with fewer
// than two distinct thresholds, and flat palettes (whose legends are the
// caller's concern), return nil.
func Legend(s *RasterStyle) []LegendEntry {
	if !s.UseCustomColors {
		return nil
	}

	rows := s.sortedRows()
	distinct := make(map[float64]struct{}, len(rows))
	for _, row := range rows {
		distinct[row.Threshold] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil
	}

	entries := make([]LegendEntry, 0, len(rows)+1)
	for _, row := range rows {
		name := row.Label
		if name == "" {
			name = strconv.FormatFloat(row.Threshold, 'g', -1, 64)
		}
		entries = append(entries, LegendEntry{Name: name, Color: row.Color})
	}

	if s.RestColor != "" {
		name := "> " + strconv.FormatFloat(rows[len(rows)-1].Threshold, 'g', -1, 64)
		entries = append(entries, LegendEntry{Name: name, Color: s.RestColor})
	}

	return entries
}
