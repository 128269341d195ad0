package boundary

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/climsite/tile-engine/internal/db"
)

const copyBatchSize = 5000

var copyColumns = []string{
	"level", "gid_0", "gid_1", "gid_2",
	"name_0", "name_1", "name_2", "size", "geom",
}

// LoadOptions controls a bulk load of administrative boundary shapefiles.
// Dir holds one shapefile per level, named with a _<level>.shp suffix
// (the GADM download layout). Truncate deletes existing rows for each
// requested level first; not safe to run while geostore rows are being
// materialized.
type LoadOptions struct {
	Dir      string
	Levels   []int
	Truncate bool
}

// Load bulk-loads boundary shapefiles into boundaries.country_boundaries,
// one level per goroutine. Returns the total rows loaded.
func Load(ctx context.Context, pool db.Pool, opts LoadOptions) (int64, error) {
	levels := opts.Levels
	if len(levels) == 0 {
		levels = []int{0, 1, 2}
	}
	for _, level := range levels {
		if level < 0 || level > 2 {
			return 0, eris.Errorf("boundary: unsupported level %d", level)
		}
	}

	totals := make([]int64, len(levels))
	g, gctx := errgroup.WithContext(ctx)

	for i, level := range levels {
		i, level := i, level
		g.Go(func() error {
			n, err := loadLevel(gctx, pool, opts.Dir, level, opts.Truncate)
			if err != nil {
				return err
			}
			totals[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range totals {
		total += n
	}
	return total, nil
}

func loadLevel(ctx context.Context, pool db.Pool, dir string, level int, truncate bool) (int64, error) {
	log := zap.L().With(
		zap.String("component", "boundary"),
		zap.Int("level", level),
	)

	shpPath, err := levelShapefile(dir, level)
	if err != nil {
		return 0, err
	}

	rows, err := parseLevel(shpPath, level)
	if err != nil {
		return 0, err
	}

	if truncate {
		if _, err := pool.Exec(ctx,
			`DELETE FROM boundaries.country_boundaries WHERE level = $1`, level,
		); err != nil {
			return 0, eris.Wrapf(err, "boundary: clear level %d", level)
		}
	}

	var total int64
	for i := 0; i < len(rows); i += copyBatchSize {
		end := i + copyBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		n, err := db.CopyFromSchema(ctx, pool, "boundaries", "country_boundaries",
			copyColumns, rows[i:end])
		if err != nil {
			return total, eris.Wrapf(err, "boundary: COPY level %d (batch %d-%d)", level, i, end)
		}
		total += n
	}

	log.Info("boundary level loaded",
		zap.String("file", filepath.Base(shpPath)),
		zap.Int64("rows", total),
	)
	return total, nil
}

// levelShapefile finds the shapefile for one administrative level in dir.
func levelShapefile(dir string, level int) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("*_%d.shp", level)))
	if err != nil {
		return "", eris.Wrapf(err, "boundary: scan %s", dir)
	}
	if len(matches) == 0 {
		return "", eris.Errorf("boundary: no level %d shapefile in %s", level, dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// parseLevel reads one shapefile into COPY rows matching copyColumns.
// Records without a usable polygon are skipped.
func parseLevel(shpPath string, level int) ([][]any, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		val := strings.TrimRight(reader.Attribute(idx), "\x00")
		return strings.TrimSpace(val)
	}

	var rows [][]any
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		wkb, encErr := encodeMultiPolygon(shape)
		if encErr != nil || wkb == nil {
			skipped++
			continue
		}

		var size float64
		for _, name := range []string{"area", "shape_area"} {
			if raw := attr(name); raw != "" {
				if v, parseErr := strconv.ParseFloat(raw, 64); parseErr == nil {
					size = v
					break
				}
			}
		}

		rows = append(rows, []any{
			level,
			attr("gid_0"), attr("gid_1"), attr("gid_2"),
			attr("name_0"), attr("name_1"), attr("name_2"),
			size,
			wkb,
		})
	}

	if skipped > 0 {
		zap.L().Debug("boundary: skipped shapefile records",
			zap.String("file", filepath.Base(shpPath)),
			zap.Int("skipped", skipped),
		)
	}
	return rows, nil
}
