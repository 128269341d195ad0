// Package vectortile generates Mapbox Vector Tiles from PostGIS tables.
package vectortile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/db"
)

// ErrTableNotFound is returned when the requested table has no ready
// catalog row or no physical table.
var ErrTableNotFound = eris.New("vectortile: table not found")

const (
	tileExtent = 4096
	tileBuffer = 256
)

// TileRequest identifies one vector tile of an uploaded table.
type TileRequest struct {
	Table string
	Z     int
	X     int
	Y     int
}

// Generator builds MVT tiles, validating table names against the catalog
// so no request-supplied name reaches SQL unchecked.
type Generator struct {
	pool  db.Pool
	store *catalog.Store
}

// NewGenerator creates a Generator.
func NewGenerator(pool db.Pool, store *catalog.Store) *Generator {
	return &Generator{pool: pool, store: store}
}

// GenerateTile renders one tile of an uploaded vector table. An empty
// result means the tile envelope intersects no features.
func (g *Generator) GenerateTile(ctx context.Context, req TileRequest) ([]byte, error) {
	vt, err := g.store.GetVectorTable(ctx, req.Table)
	if eris.Is(err, catalog.ErrNotFound) {
		return nil, eris.Wrapf(ErrTableNotFound, "%s", req.Table)
	}
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT ST_AsMVT(q, 'default', %d, 'geom') FROM (
			SELECT %s,
				ST_AsMVTGeom(
					ST_Transform(geom, 3857),
					ST_TileEnvelope($1, $2, $3),
					%d, %d, true
				) AS geom
			FROM %s
			WHERE geom && ST_Transform(ST_TileEnvelope($1, $2, $3), 4326)
		) q`,
		tileExtent,
		attributeColumns(vt.Columns),
		tileExtent, tileBuffer,
		db.SanitizeTable("vectordata."+vt.TableName),
	)

	var tile []byte
	err = g.pool.QueryRow(ctx, sql, req.Z, req.X, req.Y).Scan(&tile)
	if isUndefinedTable(err) {
		// Catalog row exists but the physical table was dropped underneath.
		return nil, eris.Wrapf(ErrTableNotFound, "%s", req.Table)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "vectortile: generate tile for %s", req.Table)
	}
	return tile, nil
}

// BoundaryTileRequest identifies one tile of the country boundary layer.
// An empty GID0 serves all countries.
type BoundaryTileRequest struct {
	GID0 string
	Z    int
	X    int
	Y    int
}

// GenerateBoundaryTile renders country boundary geometries as an MVT.
func (g *Generator) GenerateBoundaryTile(ctx context.Context, req BoundaryTileRequest) ([]byte, error) {
	sql := fmt.Sprintf(`
		SELECT ST_AsMVT(q, 'default', %d, 'geom') FROM (
			SELECT id, level, gid_0, gid_1, gid_2, name_0, name_1, name_2,
				ST_AsMVTGeom(
					ST_Transform(geom, 3857),
					ST_TileEnvelope($1, $2, $3),
					%d, %d, true
				) AS geom
			FROM boundaries.country_boundaries
			WHERE geom && ST_Transform(ST_TileEnvelope($1, $2, $3), 4326)
				AND ($4 = '' OR gid_0 = $4)
		) q`,
		tileExtent, tileExtent, tileBuffer,
	)

	var tile []byte
	err := g.pool.QueryRow(ctx, sql, req.Z, req.X, req.Y, req.GID0).Scan(&tile)
	if err != nil {
		return nil, eris.Wrap(err, "vectortile: generate boundary tile")
	}
	return tile, nil
}

// attributeColumns lists the table's attribute columns in stable order.
// The geometry and fid columns are handled separately; gid is always
// present as the feature id.
func attributeColumns(columns map[string]string) string {
	names := make([]string, 0, len(columns)+1)
	for name := range columns {
		if name == "gid" || name == "geom" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	quoted := make([]string, 0, len(names)+1)
	quoted = append(quoted, `"gid"`)
	for _, name := range names {
		quoted = append(quoted, pgx.Identifier{name}.Sanitize())
	}
	return strings.Join(quoted, ", ")
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
