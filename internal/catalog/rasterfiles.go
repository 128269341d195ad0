package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// PublishRasterFile records a converted raster for (layer, time). The
// duplicate check runs before the caller moves any file into place, so a
// rejected publish leaves no artifacts behind.
func (s *Store) PublishRasterFile(ctx context.Context, rf *RasterFile) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM catalog.layer_raster_files WHERE layer_id = $1 AND time = $2)`,
		rf.LayerID, rf.Time,
	).Scan(&exists)
	if err != nil {
		return eris.Wrap(err, "catalog: check raster file duplicate")
	}
	if exists {
		return eris.Wrapf(ErrDuplicateTime, "layer %s time %s", rf.LayerID, rf.Time.Format(time.RFC3339))
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO catalog.layer_raster_files (layer_id, time, path, data_variable)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		rf.LayerID, rf.Time, rf.Path, rf.DataVariable,
	).Scan(&rf.ID)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent publish of the same time.
		return eris.Wrapf(ErrDuplicateTime, "layer %s time %s", rf.LayerID, rf.Time.Format(time.RFC3339))
	}
	if err != nil {
		return eris.Wrap(err, "catalog: insert raster file")
	}
	return nil
}

// RasterFileAt returns the raster published for (layer, time).
func (s *Store) RasterFileAt(ctx context.Context, layerID uuid.UUID, t time.Time) (*RasterFile, error) {
	var rf RasterFile
	err := s.pool.QueryRow(ctx,
		`SELECT id, layer_id, time, path, data_variable
		 FROM catalog.layer_raster_files WHERE layer_id = $1 AND time = $2`,
		layerID, t,
	).Scan(&rf.ID, &rf.LayerID, &rf.Time, &rf.Path, &rf.DataVariable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "raster file for layer %s at %s", layerID, t.Format(time.RFC3339))
	}
	if err != nil {
		return nil, eris.Wrap(err, "catalog: get raster file")
	}
	return &rf, nil
}

// ListRasterFiles returns a layer's published rasters ordered by time.
func (s *Store) ListRasterFiles(ctx context.Context, layerID uuid.UUID) ([]RasterFile, error) {
	return s.queryRasterFiles(ctx,
		`SELECT id, layer_id, time, path, data_variable
		 FROM catalog.layer_raster_files WHERE layer_id = $1 ORDER BY time`,
		layerID)
}

// RasterFilesBetween returns the rasters published in [from, to], ordered
// by time.
func (s *Store) RasterFilesBetween(ctx context.Context, layerID uuid.UUID, from, to time.Time) ([]RasterFile, error) {
	return s.queryRasterFiles(ctx,
		`SELECT id, layer_id, time, path, data_variable
		 FROM catalog.layer_raster_files
		 WHERE layer_id = $1 AND time >= $2 AND time <= $3 ORDER BY time`,
		layerID, from, to)
}

func (s *Store) queryRasterFiles(ctx context.Context, sql string, args ...any) ([]RasterFile, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query raster files")
	}
	defer rows.Close()

	var out []RasterFile
	for rows.Next() {
		var rf RasterFile
		if err := rows.Scan(&rf.ID, &rf.LayerID, &rf.Time, &rf.Path, &rf.DataVariable); err != nil {
			return nil, eris.Wrap(err, "catalog: scan raster file")
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
