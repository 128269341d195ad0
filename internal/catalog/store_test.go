package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockStore creates a Store backed by pgxmock.
func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewStore(mock), mock
}

func TestGetDataset_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectQuery(`FROM catalog\.datasets WHERE id`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDataset(context.Background(), id)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLayer_SingleLayerConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO catalog.layers`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "layers_single_per_dataset"})

	d := &Dataset{ID: uuid.New(), LayerType: LayerTypeFile}
	err := s.CreateLayer(context.Background(), d, &Layer{Title: "second"})
	assert.True(t, eris.Is(err, ErrLayerExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRasterFile_DuplicateTime(t *testing.T) {
	s, mock := newMockStore(t)

	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(layerID, at).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.PublishRasterFile(context.Background(), &RasterFile{LayerID: layerID, Time: at, Path: "/x.tif"})
	assert.True(t, eris.Is(err, ErrDuplicateTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishRasterFile(t *testing.T) {
	s, mock := newMockStore(t)

	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(layerID, at).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`INSERT INTO catalog.layer_raster_files`).
		WithArgs(layerID, at, "/data/x.tif", "pr").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(7))

	rf := &RasterFile{LayerID: layerID, Time: at, Path: "/data/x.tif", DataVariable: "pr"}
	require.NoError(t, s.PublishRasterFile(context.Background(), rf))
	assert.Equal(t, 7, rf.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVectorTablePending_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)

	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(layerID, at, "flood_zones").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.CreateVectorTablePending(context.Background(),
		&VectorTable{LayerID: layerID, Time: at, TableName: "flood_zones"})
	assert.True(t, eris.Is(err, ErrDuplicateTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateVectorTablePending_InvalidName(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.CreateVectorTablePending(context.Background(),
		&VectorTable{TableName: `zones"; DROP TABLE x`})
	assert.Error(t, err)
}

func TestMarkVectorTableReady_MissingMarker(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE catalog.pg_vector_tables`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkVectorTableReady(context.Background(), &VectorTable{TableName: "flood_zones"})
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteVectorTable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE IF EXISTS "vectordata"."flood_zones"`).
		WillReturnResult(pgxmock.NewResult("DROP", 0))
	mock.ExpectExec(`DELETE FROM catalog.pg_vector_tables`).
		WithArgs("flood_zones").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	require.NoError(t, s.DeleteVectorTable(context.Background(), "flood_zones"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidTableName(t *testing.T) {
	assert.True(t, ValidTableName("flood_zones_2026"))
	assert.False(t, ValidTableName("FloodZones"))
	assert.False(t, ValidTableName("2026_zones"))
	assert.False(t, ValidTableName("zones; drop"))
	assert.False(t, ValidTableName(""))
}

func TestMigrate_AppliesPendingFiles(t *testing.T) {
	_, mock := newMockStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS catalog.schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM catalog.schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("0001_catalog.sql"))
	// 0001 already applied; 0002 and 0003 run.
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS vectordata`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO catalog.schema_migrations`).
		WithArgs("0002_vectordata.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS boundaries`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO catalog.schema_migrations`).
		WithArgs("0003_boundaries.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, Migrate(context.Background(), mock))
	assert.NoError(t, mock.ExpectationsWereMet())
}
