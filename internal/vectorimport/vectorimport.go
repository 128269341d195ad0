// Package vectorimport loads uploaded vector files into per-upload PostGIS
// tables using ogr2ogr.
package vectorimport

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/db"
)

// ImportOptions identifies one import.
type ImportOptions struct {
	Path      string
	TableName string
	LayerID   uuid.UUID
	Time      time.Time
}

// Importer runs the two-phase import: pending marker, ogr2ogr load,
// introspection, ready flip.
type Importer struct {
	pool   db.Pool
	store  *catalog.Store
	ogrBin string
	pgDSN  string
}

// NewImporter creates an Importer. An empty ogrBin falls back to "ogr2ogr"
// on PATH; pgDSN is the connection string handed to the tool.
func NewImporter(pool db.Pool, store *catalog.Store, ogrBin, pgDSN string) *Importer {
	if ogrBin == "" {
		ogrBin = "ogr2ogr"
	}
	return &Importer{pool: pool, store: store, ogrBin: ogrBin, pgDSN: pgDSN}
}

// Import validates and loads one uploaded file. The duplicate check runs
// before any file is touched, and upload validation runs before the pending
// marker is written, so rejected uploads leave no catalog rows behind.
func (im *Importer) Import(ctx context.Context, opts ImportOptions) (*catalog.VectorTable, error) {
	log := zap.L().With(
		zap.String("component", "vectorimport"),
		zap.String("table", opts.TableName),
	)

	if !catalog.ValidTableName(opts.TableName) {
		return nil, eris.Errorf("vectorimport: invalid table name %q", opts.TableName)
	}

	exists, err := im.store.VectorTableExists(ctx, opts.LayerID, opts.Time, opts.TableName)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, eris.Wrapf(catalog.ErrDuplicateTime, "layer %s time %s",
			opts.LayerID, opts.Time.Format(time.RFC3339))
	}

	scratch, err := os.MkdirTemp("", "vectorimport-")
	if err != nil {
		return nil, eris.Wrap(err, "vectorimport: create scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	source, err := prepareSource(opts.Path, scratch)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(source), ".shp") {
		fields, err := preflightShapefile(source)
		if err != nil {
			return nil, err
		}
		log.Debug("shapefile preflight", zap.Strings("fields", fields))
	}

	vt := &catalog.VectorTable{
		LayerID:   opts.LayerID,
		Time:      opts.Time,
		TableName: opts.TableName,
	}
	if err := im.store.CreateVectorTablePending(ctx, vt); err != nil {
		return nil, err
	}

	if err := im.runOgr2ogr(ctx, source, opts.TableName); err != nil {
		// The pending marker stays behind for the reconcile sweep.
		return nil, err
	}

	if err := im.introspect(ctx, vt); err != nil {
		return nil, err
	}
	if err := im.store.MarkVectorTableReady(ctx, vt); err != nil {
		return nil, err
	}

	log.Info("vector table imported",
		zap.String("geometry_type", vt.GeometryType),
		zap.Int("columns", len(vt.Columns)))
	return vt, nil
}

// runOgr2ogr loads the source into vectordata.<table>. ogr2ogr reports
// almost everything on stderr, so a non-empty stderr is surfaced verbatim
// on failure.
func (im *Importer) runOgr2ogr(ctx context.Context, source, table string) error {
	args := []string{
		"-f", "PostgreSQL",
		"PG:" + im.pgDSN,
		source,
		"-nln", "vectordata." + table,
		"-lco", "FID=gid",
		"-lco", "GEOMETRY_NAME=geom",
		"-nlt", "PROMOTE_TO_MULTI",
		"-t_srs", "EPSG:4326",
	}

	cmd := exec.CommandContext(ctx, im.ogrBin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return eris.Wrapf(err, "vectorimport: ogr2ogr failed: %s", msg)
		}
		return eris.Wrap(err, "vectorimport: ogr2ogr failed")
	}
	return nil
}

// introspect fills the geometry type, bounds and attribute schema from the
// freshly loaded table.
func (im *Importer) introspect(ctx context.Context, vt *catalog.VectorTable) error {
	table := db.SanitizeTable("vectordata." + vt.TableName)

	err := im.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT GeometryType(geom) FROM `+table+` WHERE geom IS NOT NULL LIMIT 1), '')`,
	).Scan(&vt.GeometryType)
	if err != nil {
		return eris.Wrapf(err, "vectorimport: introspect geometry type of %s", vt.TableName)
	}

	var bounds []float64
	err = im.pool.QueryRow(ctx,
		`SELECT ARRAY[ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e)]
		 FROM (SELECT ST_Extent(geom) AS e FROM `+table+`) q`,
	).Scan(&bounds)
	if err != nil {
		return eris.Wrapf(err, "vectorimport: introspect bounds of %s", vt.TableName)
	}
	if len(bounds) == 4 {
		copy(vt.Bounds[:], bounds)
	}

	rows, err := im.pool.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = 'vectordata' AND table_name = $1
		   AND column_name NOT IN ('gid', 'geom')
		 ORDER BY ordinal_position`,
		vt.TableName)
	if err != nil {
		return eris.Wrapf(err, "vectorimport: introspect columns of %s", vt.TableName)
	}
	defer rows.Close()

	vt.Columns = make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return eris.Wrap(err, "vectorimport: scan column row")
		}
		vt.Columns[name] = dataType
	}
	return rows.Err()
}
