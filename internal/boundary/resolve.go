package boundary

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/db"
)

var (
	// ErrNotFound means no boundary matches the administrative codes.
	ErrNotFound = eris.New("boundary: not found")
	// ErrInvalidRequest means the code tuple is malformed.
	ErrInvalidRequest = eris.New("boundary: invalid request")
)

// Geostore is a cached geometry record addressable by id or by the
// administrative-code tuple it was derived from.
type Geostore struct {
	ID      uuid.UUID       `json:"id"`
	ISO     string          `json:"iso,omitempty"`
	ID1     *int            `json:"id1,omitempty"`
	ID2     *int            `json:"id2,omitempty"`
	GeoJSON json.RawMessage `json:"geojson"`
	BBox    []float64       `json:"bbox"`
	Hash    string          `json:"hash"`
}

// ResolveRequest names an administrative area: ISO alone is a country,
// ISO+ID1 a region, ISO+ID1+ID2 a subregion. Simplify is a tolerance in
// degrees for ST_SimplifyPreserveTopology; zero returns the full geometry.
type ResolveRequest struct {
	ISO      string
	ID1      *int
	ID2      *int
	Simplify float64
}

// Resolver answers geostore lookups backed by the boundary tables.
type Resolver struct {
	pool db.Pool
}

func NewResolver(pool db.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve returns the geostore record for an administrative-code tuple.
// A miss falls back to country_boundaries and materializes a geostore row
// so the next lookup skips the boundary table. Simplification is applied
// to the returned geometry only; the stored row keeps the full geometry.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Geostore, error) {
	if req.ISO == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "missing iso code")
	}
	if req.ID2 != nil && req.ID1 == nil {
		return nil, eris.Wrap(ErrInvalidRequest, "id2 without id1")
	}

	hash := lookupHash(req.ISO, req.ID1, req.ID2)

	gs, err := r.getByHash(ctx, hash)
	if err == nil {
		return r.simplified(ctx, gs, req.Simplify)
	}
	if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	gs, err = r.fromBoundary(ctx, req, hash)
	if err != nil {
		return nil, err
	}

	if err := r.insert(ctx, gs); err != nil {
		return nil, err
	}

	zap.L().Info("geostore row materialized",
		zap.String("component", "boundary"),
		zap.String("iso", req.ISO),
		zap.String("id", gs.ID.String()),
	)
	return r.simplified(ctx, gs, req.Simplify)
}

// CreateFromGeoJSON stores a client-submitted geometry as a geostore row
// and returns it. Submitting the same geometry twice returns the existing
// row.
func (r *Resolver) CreateFromGeoJSON(ctx context.Context, raw json.RawMessage) (*Geostore, error) {
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrap(ErrInvalidRequest, err.Error())
	}

	bounds := g.Bounds()
	sum := sha256.Sum256(raw)
	hash := fmt.Sprintf("%x", sum[:16])

	if gs, err := r.getByHash(ctx, hash); err == nil {
		return gs, nil
	} else if !eris.Is(err, ErrNotFound) {
		return nil, err
	}

	gs := &Geostore{
		ID:      uuid.New(),
		GeoJSON: raw,
		BBox:    []float64{bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)},
		Hash:    hash,
	}
	if err := r.insert(ctx, gs); err != nil {
		return nil, err
	}
	return gs, nil
}

// Get returns a geostore row by id.
func (r *Resolver) Get(ctx context.Context, id uuid.UUID) (*Geostore, error) {
	gs := &Geostore{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, iso, id1, id2, geojson, bbox, lookup_hash
		 FROM boundaries.geostore WHERE id = $1`, id,
	).Scan(&gs.ID, &gs.ISO, &gs.ID1, &gs.ID2, &gs.GeoJSON, &gs.BBox, &gs.Hash)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "geostore %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "boundary: get geostore")
	}
	return gs, nil
}

func (r *Resolver) getByHash(ctx context.Context, hash string) (*Geostore, error) {
	gs := &Geostore{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, iso, id1, id2, geojson, bbox, lookup_hash
		 FROM boundaries.geostore WHERE lookup_hash = $1`, hash,
	).Scan(&gs.ID, &gs.ISO, &gs.ID1, &gs.ID2, &gs.GeoJSON, &gs.BBox, &gs.Hash)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "geostore hash %s", hash)
	}
	if err != nil {
		return nil, eris.Wrap(err, "boundary: get geostore by hash")
	}
	return gs, nil
}

func (r *Resolver) fromBoundary(ctx context.Context, req ResolveRequest, hash string) (*Geostore, error) {
	level, where, arg := boundaryFilter(req)

	gs := &Geostore{ID: uuid.New(), ISO: req.ISO, ID1: req.ID1, ID2: req.ID2, Hash: hash}
	err := r.pool.QueryRow(ctx,
		`SELECT ST_AsGeoJSON(geom)::jsonb,
		        ARRAY[ST_XMin(geom), ST_YMin(geom), ST_XMax(geom), ST_YMax(geom)]
		 FROM boundaries.country_boundaries
		 WHERE level = $1 AND `+where, level, arg,
	).Scan(&gs.GeoJSON, &gs.BBox)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "level %d code %s", level, arg)
	}
	if err != nil {
		return nil, eris.Wrap(err, "boundary: lookup")
	}
	return gs, nil
}

func (r *Resolver) insert(ctx context.Context, gs *Geostore) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO boundaries.geostore (id, iso, id1, id2, geojson, bbox, lookup_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (lookup_hash) DO NOTHING`,
		gs.ID, gs.ISO, gs.ID1, gs.ID2, gs.GeoJSON, gs.BBox, gs.Hash,
	)
	if err != nil {
		return eris.Wrap(err, "boundary: insert geostore")
	}
	return nil
}

// simplified applies the read-time simplification tolerance. The stored
// geometry is never changed.
func (r *Resolver) simplified(ctx context.Context, gs *Geostore, tolerance float64) (*Geostore, error) {
	if tolerance <= 0 {
		return gs, nil
	}

	var out json.RawMessage
	err := r.pool.QueryRow(ctx,
		`SELECT ST_AsGeoJSON(ST_SimplifyPreserveTopology(ST_GeomFromGeoJSON($1::text), $2))::jsonb`,
		gs.GeoJSON, tolerance,
	).Scan(&out)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: simplify geometry")
	}
	gs.GeoJSON = out
	return gs, nil
}

// boundaryFilter maps a code tuple onto the level and GID column that
// identify it, following the GADM code layout (e.g. "BRA.12_1").
func boundaryFilter(req ResolveRequest) (level int, where string, arg string) {
	switch {
	case req.ID2 != nil:
		return 2, "gid_2 = $2", fmt.Sprintf("%s.%d.%d_2", req.ISO, *req.ID1, *req.ID2)
	case req.ID1 != nil:
		return 1, "gid_1 = $2", fmt.Sprintf("%s.%d_1", req.ISO, *req.ID1)
	default:
		return 0, "gid_0 = $2", req.ISO
	}
}

func lookupHash(iso string, id1, id2 *int) string {
	key := iso
	if id1 != nil {
		key = fmt.Sprintf("%s/%d", key, *id1)
	}
	if id2 != nil {
		key = fmt.Sprintf("%s/%d", key, *id2)
	}
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:16])
}
