package boundary

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var geostoreColumns = []string{"id", "iso", "id1", "id2", "geojson", "bbox", "lookup_hash"}

func newMockResolver(t *testing.T) (*Resolver, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewResolver(mock), mock
}

func TestResolve_CacheHit(t *testing.T) {
	r, mock := newMockResolver(t)
	id := uuid.New()

	mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnRows(pgxmock.NewRows(geostoreColumns).
			AddRow(id, "NLD", nil, nil, []byte(`{"type":"MultiPolygon"}`), []float64{3.3, 50.7, 7.2, 53.6}, "abc"))

	gs, err := r.Resolve(context.Background(), ResolveRequest{ISO: "NLD"})
	require.NoError(t, err)
	assert.Equal(t, id, gs.ID)
	assert.Equal(t, "NLD", gs.ISO)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_MaterializesFromBoundary(t *testing.T) {
	r, mock := newMockResolver(t)
	id1 := 12

	mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM boundaries\.country_boundaries`).
		WithArgs(1, "BRA.12_1").
		WillReturnRows(pgxmock.NewRows([]string{"geojson", "bbox"}).
			AddRow([]byte(`{"type":"MultiPolygon"}`), []float64{-53.1, -25.3, -44.2, -19.8}))
	mock.ExpectExec(`INSERT INTO boundaries\.geostore`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	gs, err := r.Resolve(context.Background(), ResolveRequest{ISO: "BRA", ID1: &id1})
	require.NoError(t, err)
	assert.Equal(t, "BRA", gs.ISO)
	require.NotNil(t, gs.ID1)
	assert.Equal(t, 12, *gs.ID1)
	assert.NotEqual(t, uuid.Nil, gs.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolve_NotFound(t *testing.T) {
	r, mock := newMockResolver(t)

	mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM boundaries\.country_boundaries`).
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Resolve(context.Background(), ResolveRequest{ISO: "XXX"})
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestResolve_InvalidRequest(t *testing.T) {
	r, _ := newMockResolver(t)
	id2 := 3

	_, err := r.Resolve(context.Background(), ResolveRequest{ISO: "BRA", ID2: &id2})
	assert.True(t, eris.Is(err, ErrInvalidRequest))

	_, err = r.Resolve(context.Background(), ResolveRequest{})
	assert.True(t, eris.Is(err, ErrInvalidRequest))
}

func TestResolve_SimplifyAppliedOnRead(t *testing.T) {
	r, mock := newMockResolver(t)

	mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnRows(pgxmock.NewRows(geostoreColumns).
			AddRow(uuid.New(), "NLD", nil, nil, []byte(`{"type":"MultiPolygon","full":true}`), []float64{0, 0, 1, 1}, "abc"))
	mock.ExpectQuery(`ST_SimplifyPreserveTopology`).
		WillReturnRows(pgxmock.NewRows([]string{"geojson"}).
			AddRow([]byte(`{"type":"MultiPolygon","simplified":true}`)))

	gs, err := r.Resolve(context.Background(), ResolveRequest{ISO: "NLD", Simplify: 0.01})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"MultiPolygon","simplified":true}`, string(gs.GeoJSON))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFromGeoJSON(t *testing.T) {
	r, mock := newMockResolver(t)
	raw := json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[0,2],[3,2],[3,0],[0,0]]]}`)

	mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO boundaries\.geostore`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	gs, err := r.CreateFromGeoJSON(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 3, 2}, gs.BBox)
	assert.NotEmpty(t, gs.Hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFromGeoJSON_Invalid(t *testing.T) {
	r, _ := newMockResolver(t)

	_, err := r.CreateFromGeoJSON(context.Background(), json.RawMessage(`{"type":"Nope"}`))
	assert.True(t, eris.Is(err, ErrInvalidRequest))
}

func TestBoundaryFilter(t *testing.T) {
	id1, id2 := 12, 3

	level, where, arg := boundaryFilter(ResolveRequest{ISO: "BRA"})
	assert.Equal(t, 0, level)
	assert.Equal(t, "gid_0 = $2", where)
	assert.Equal(t, "BRA", arg)

	level, _, arg = boundaryFilter(ResolveRequest{ISO: "BRA", ID1: &id1})
	assert.Equal(t, 1, level)
	assert.Equal(t, "BRA.12_1", arg)

	level, _, arg = boundaryFilter(ResolveRequest{ISO: "BRA", ID1: &id1, ID2: &id2})
	assert.Equal(t, 2, level)
	assert.Equal(t, "BRA.12.3_2", arg)
}

func TestLookupHash_Distinct(t *testing.T) {
	id1 := 1
	assert.NotEqual(t, lookupHash("BRA", nil, nil), lookupHash("BRA", &id1, nil))
	assert.Equal(t, lookupHash("BRA", &id1, nil), lookupHash("BRA", &id1, nil))
}
