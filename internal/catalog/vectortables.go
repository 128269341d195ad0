package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/db"
)

// tableNamePattern restricts upload table names to plain lowercase
// identifiers so they can be embedded in DDL and tile SQL.
var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidTableName reports whether name is acceptable as a vectordata table
// name.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// VectorTableExists reports whether (layer, time) or the table name is
// already taken. Importers call this before touching any files.
func (s *Store) VectorTableExists(ctx context.Context, layerID uuid.UUID, t time.Time, tableName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM catalog.pg_vector_tables
			WHERE (layer_id = $1 AND time = $2) OR table_name = $3
		)`,
		layerID, t, tableName,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "catalog: check vector table duplicate")
	}
	return exists, nil
}

// CreateVectorTablePending records an import before ogr2ogr runs. Both
// unique constraints, (layer, time) and table_name, are checked up front so
// a duplicate import fails before any data moves.
func (s *Store) CreateVectorTablePending(ctx context.Context, vt *VectorTable) error {
	if !ValidTableName(vt.TableName) {
		return eris.Errorf("catalog: invalid table name %q", vt.TableName)
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM catalog.pg_vector_tables
			WHERE (layer_id = $1 AND time = $2) OR table_name = $3
		)`,
		vt.LayerID, vt.Time, vt.TableName,
	).Scan(&exists)
	if err != nil {
		return eris.Wrap(err, "catalog: check vector table duplicate")
	}
	if exists {
		return eris.Wrapf(ErrDuplicateTime, "layer %s time %s table %s",
			vt.LayerID, vt.Time.Format(time.RFC3339), vt.TableName)
	}

	vt.Status = VectorTablePending
	err = s.pool.QueryRow(ctx,
		`INSERT INTO catalog.pg_vector_tables (layer_id, time, table_name, status)
		 VALUES ($1, $2, $3, 'pending') RETURNING id, created_at`,
		vt.LayerID, vt.Time, vt.TableName,
	).Scan(&vt.ID, &vt.CreatedAt)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateTime, "layer %s time %s table %s",
			vt.LayerID, vt.Time.Format(time.RFC3339), vt.TableName)
	}
	if err != nil {
		return eris.Wrap(err, "catalog: insert pending vector table")
	}
	return nil
}

// MarkVectorTableReady flips the pending marker to ready with the
// introspected schema in one statement.
func (s *Store) MarkVectorTableReady(ctx context.Context, vt *VectorTable) error {
	columnsJSON, err := json.Marshal(vt.Columns)
	if err != nil {
		return eris.Wrap(err, "catalog: encode vector table columns")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog.pg_vector_tables
		 SET status = 'ready', geometry_type = $1, bounds = $2, columns = $3
		 WHERE table_name = $4 AND status = 'pending'`,
		vt.GeometryType, vt.Bounds[:], columnsJSON, vt.TableName)
	if err != nil {
		return eris.Wrapf(err, "catalog: mark vector table %s ready", vt.TableName)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "pending vector table %s", vt.TableName)
	}
	vt.Status = VectorTableReady
	return nil
}

const vectorTableColumns = `id, layer_id, time, table_name, geometry_type,
	bounds, columns, status, created_at`

func scanVectorTable(row pgx.Row) (*VectorTable, error) {
	var (
		vt          VectorTable
		bounds      []float64
		columnsJSON []byte
	)
	err := row.Scan(&vt.ID, &vt.LayerID, &vt.Time, &vt.TableName,
		&vt.GeometryType, &bounds, &columnsJSON, &vt.Status, &vt.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(bounds) == 4 {
		copy(vt.Bounds[:], bounds)
	}
	if len(columnsJSON) > 0 {
		if err := json.Unmarshal(columnsJSON, &vt.Columns); err != nil {
			return nil, eris.Wrap(err, "catalog: decode vector table columns")
		}
	}
	return &vt, nil
}

// GetVectorTable returns a ready table by name. Pending markers are not
// servable.
func (s *Store) GetVectorTable(ctx context.Context, tableName string) (*VectorTable, error) {
	vt, err := scanVectorTable(s.pool.QueryRow(ctx,
		`SELECT `+vectorTableColumns+` FROM catalog.pg_vector_tables
		 WHERE table_name = $1 AND status = 'ready'`, tableName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "vector table %s", tableName)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get vector table %s", tableName)
	}
	return vt, nil
}

// ListVectorTables returns a layer's ready tables ordered by time.
func (s *Store) ListVectorTables(ctx context.Context, layerID uuid.UUID) ([]VectorTable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vectorTableColumns+` FROM catalog.pg_vector_tables
		 WHERE layer_id = $1 AND status = 'ready' ORDER BY time`, layerID)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query vector tables")
	}
	defer rows.Close()

	var out []VectorTable
	for rows.Next() {
		vt, err := scanVectorTable(rows)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: scan vector table")
		}
		out = append(out, *vt)
	}
	return out, rows.Err()
}

// ListPendingVectorTables returns pending markers created before the
// cutoff, the leftovers of imports that died between the marker write and
// the ready flip.
func (s *Store) ListPendingVectorTables(ctx context.Context, before time.Time) ([]VectorTable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vectorTableColumns+` FROM catalog.pg_vector_tables
		 WHERE status = 'pending' AND created_at < $1 ORDER BY created_at`, before)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query pending vector tables")
	}
	defer rows.Close()

	var out []VectorTable
	for rows.Next() {
		vt, err := scanVectorTable(rows)
		if err != nil {
			return nil, eris.Wrap(err, "catalog: scan vector table")
		}
		out = append(out, *vt)
	}
	return out, rows.Err()
}

// DeleteVectorTable drops the physical table and removes the catalog row
// in one transaction.
func (s *Store) DeleteVectorTable(ctx context.Context, tableName string) error {
	if !ValidTableName(tableName) {
		return eris.Errorf("catalog: invalid table name %q", tableName)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "catalog: begin delete vector table")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DROP TABLE IF EXISTS `+db.SanitizeTable("vectordata."+tableName)); err != nil {
		return eris.Wrapf(err, "catalog: drop table %s", tableName)
	}

	tag, err := tx.Exec(ctx,
		`DELETE FROM catalog.pg_vector_tables WHERE table_name = $1`, tableName)
	if err != nil {
		return eris.Wrapf(err, "catalog: delete vector table row %s", tableName)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "vector table %s", tableName)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "catalog: commit delete vector table")
	}
	return nil
}
