package boundary

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jonas-p/go-shp"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeLevelShapefile creates a one-country level-0 fixture in dir.
func writeLevelShapefile(t *testing.T, dir string) {
	t.Helper()

	w, err := shp.Create(filepath.Join(dir, "gadm_0.shp"), shp.POLYGON)
	require.NoError(t, err)

	w.SetFields([]shp.Field{
		shp.StringField("GID_0", 10),
		shp.StringField("NAME_0", 40),
		shp.StringField("AREA", 20),
	})
	w.Write(squarePolygon())
	w.WriteAttribute(0, 0, "NLD")
	w.WriteAttribute(0, 1, "Netherlands")
	w.WriteAttribute(0, 2, "41543.0")
	w.Close()
}

func TestParseLevel(t *testing.T) {
	dir := t.TempDir()
	writeLevelShapefile(t, dir)

	rows, err := parseLevel(filepath.Join(dir, "gadm_0.shp"), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Len(t, row, len(copyColumns))
	assert.Equal(t, 0, row[0])
	assert.Equal(t, "NLD", row[1])
	assert.Equal(t, "", row[2])
	assert.Equal(t, "Netherlands", row[4])
	assert.Equal(t, 41543.0, row[7])
	assert.NotEmpty(t, row[8])
}

func TestLevelShapefile_Missing(t *testing.T) {
	_, err := levelShapefile(t.TempDir(), 1)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeLevelShapefile(t, dir)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"boundaries", "country_boundaries"}, copyColumns).
		WillReturnResult(1)

	n, err := Load(context.Background(), mock, LoadOptions{Dir: dir, Levels: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_Truncate(t *testing.T) {
	dir := t.TempDir()
	writeLevelShapefile(t, dir)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM boundaries.country_boundaries").
		WithArgs(0).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"boundaries", "country_boundaries"}, copyColumns).
		WillReturnResult(1)

	n, err := Load(context.Background(), mock, LoadOptions{Dir: dir, Levels: []int{0}, Truncate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_BadLevel(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = Load(context.Background(), mock, LoadOptions{Dir: t.TempDir(), Levels: []int{5}})
	assert.Error(t, err)
}
