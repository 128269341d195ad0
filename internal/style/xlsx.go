package style

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ImportXLSX reads an ordered (threshold, color, label) table from the first
// sheet of a spreadsheet. A header row is skipped when the first cell does
// not parse as a number.
func ImportXLSX(path string) ([]ThresholdRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "style: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("style: xlsx has no sheets")
	}

	var rows []ThresholdRow
	for i, row := range f.Sheets[0].Rows {
		if len(row.Cells) < 2 {
			continue
		}

		raw := strings.TrimSpace(row.Cells[0].String())
		if raw == "" {
			continue
		}

		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, eris.Errorf("style: row %d: invalid threshold %q", i+1, raw)
		}

		entry := ThresholdRow{
			Threshold: threshold,
			Color:     strings.TrimSpace(row.Cells[1].String()),
		}
		if _, err := ParseColor(entry.Color); err != nil {
			return nil, eris.Wrapf(err, "style: row %d", i+1)
		}
		if len(row.Cells) > 2 {
			entry.Label = strings.TrimSpace(row.Cells[2].String())
		}

		rows = append(rows, entry)
	}

	if len(rows) == 0 {
		return nil, eris.New("style: xlsx contains no threshold rows")
	}
	return rows, nil
}
