package server

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"image"
	_ "image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climsite/tile-engine/internal/basemap"
	"github.com/climsite/tile-engine/internal/boundary"
	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/cog/cogtest"
	"github.com/climsite/tile-engine/internal/config"
	"github.com/climsite/tile-engine/internal/rastercodec"
	"github.com/climsite/tile-engine/internal/tilecache"
	"github.com/climsite/tile-engine/internal/vectorimport"
	"github.com/climsite/tile-engine/internal/vectortile"
	"github.com/climsite/tile-engine/internal/wms"
)

type testEnv struct {
	srv     *Server
	handler http.Handler
	mock    pgxmock.PgxPoolIface
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Server.Port = 0
	cfg.Server.BaseURL = "http://tiles.test"
	cfg.Raster.DataDir = filepath.Join(root, "rasters")
	cfg.Raster.UploadDir = filepath.Join(root, "uploads")
	cfg.Basemap.ArchiveDir = filepath.Join(root, "basemaps")
	cfg.Basemap.StyleDir = filepath.Join(root, "styles")
	require.NoError(t, os.MkdirAll(cfg.Raster.DataDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Basemap.ArchiveDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Basemap.StyleDir, 0o755))

	store := catalog.NewStore(mock)
	basemaps := basemap.NewService(cfg.Basemap.ArchiveDir, cfg.Basemap.StyleDir)
	t.Cleanup(basemaps.Close)

	srv := New(Deps{
		Config:   cfg,
		Store:    store,
		Vector:   vectortile.NewGenerator(mock, store),
		Basemaps: basemaps,
		Resolver: boundary.NewResolver(mock),
		Codec:    rastercodec.New("gdal_translate", "gdalinfo"),
		Importer: vectorimport.NewImporter(mock, store, "ogr2ogr", ""),
		WMSProxy: wms.NewProxy(100),
		Cache:    tilecache.NewMemory(64, time.Minute),
	})
	return &testEnv{srv: srv, handler: srv.Router(), mock: mock, cfg: cfg}
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func layerRows(id, datasetID uuid.UUID) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "dataset_id", "title", "is_default", "style_id", "render_layers",
		"wms_base_url", "wms_layers", "wms_styles", "wms_version", "wms_params",
	}).AddRow(id, datasetID, "precip", true, nil, []byte(nil), "", "", "", "", []byte(nil))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRasterTile_ParamValidation(t *testing.T) {
	env := newTestEnv(t)
	layer := uuid.New()

	cases := map[string]string{
		"missing layer":   "/raster-tiles/0/0/0?time=2026-01-01T00:00:00Z",
		"bad layer":       "/raster-tiles/0/0/0?layer=nope&time=2026-01-01T00:00:00Z",
		"missing time":    "/raster-tiles/0/0/0?layer=" + layer.String(),
		"bad time":        "/raster-tiles/0/0/0?layer=" + layer.String() + "&time=yesterday",
		"bad coordinate":  "/raster-tiles/a/0/0?layer=" + layer.String() + "&time=2026-01-01T00:00:00Z",
		"bad format":      "/raster-tiles/0/0/0?layer=" + layer.String() + "&time=2026-01-01T00:00:00Z&format=bmp",
		"bad projection":  "/raster-tiles/0/0/0?layer=" + layer.String() + "&time=2026-01-01T00:00:00Z&projection=EPSG:4326",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.get(t, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRasterTile_ServesPNG(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "world.tif")
	cogtest.Write(t, path, cogtest.Global(64, 32, 7))

	env.mock.ExpectQuery(`FROM catalog\.layers WHERE id`).
		WithArgs(layerID).
		WillReturnRows(layerRows(layerID, uuid.New()))
	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files WHERE layer_id = \$1 AND time = \$2`).
		WithArgs(layerID, at).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}).
			AddRow(1, layerID, at, path, ""))

	rec := env.get(t, "/raster-tiles/2/1/1?layer="+layerID.String()+"&time=2026-01-01T00:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, format, err := image.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRasterTile_OutOfRange(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "world.tif")
	cogtest.Write(t, path, cogtest.Global(64, 32, 7))

	env.mock.ExpectQuery(`FROM catalog\.layers WHERE id`).
		WithArgs(layerID).
		WillReturnRows(layerRows(layerID, uuid.New()))
	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files WHERE layer_id = \$1 AND time = \$2`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}).
			AddRow(1, layerID, at, path, ""))

	rec := env.get(t, "/raster-tiles/2/9999/0?layer="+layerID.String()+"&time=2026-01-01T00:00:00Z")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRasterTile_NoRasterAtTime(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()

	env.mock.ExpectQuery(`FROM catalog\.layers WHERE id`).
		WithArgs(layerID).
		WillReturnRows(layerRows(layerID, uuid.New()))
	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files WHERE layer_id = \$1 AND time = \$2`).
		WillReturnError(pgx.ErrNoRows)

	rec := env.get(t, "/raster-tiles/0/0/0?layer="+layerID.String()+"&time=2026-01-01T00:00:00Z")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPixel(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "world.tif")
	cogtest.Write(t, path, cogtest.Global(64, 32, 7))

	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files WHERE layer_id = \$1 AND time = \$2`).
		WithArgs(layerID, at).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}).
			AddRow(1, layerID, at, path, ""))

	rec := env.get(t, "/raster-data/pixel?layer="+layerID.String()+
		"&time=2026-01-01T00:00:00Z&x=0&y=0")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Time  string   `json:"time"`
		Value *float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Value)
	assert.InDelta(t, 7, *body.Value, 0.001)
}

func TestPixelTimeseries(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.tif")
	pathB := filepath.Join(dir, "b.tif")
	cogtest.Write(t, pathA, cogtest.Global(64, 32, 1))
	cogtest.Write(t, pathB, cogtest.Global(64, 32, 2))

	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}).
			AddRow(1, layerID, t0, pathA, "").
			AddRow(2, layerID, t1, pathB, ""))

	rec := env.get(t, "/raster-data/pixel/timeseries?layer="+layerID.String()+
		"&time_from=2026-01-01T00:00:00Z&time_to=2026-01-02T00:00:00Z&x=0&y=0")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Samples []struct {
			Time  string   `json:"time"`
			Value *float64 `json:"value"`
		} `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Samples, 2)
	assert.InDelta(t, 1, *body.Samples[0].Value, 0.001)
	assert.InDelta(t, 2, *body.Samples[1].Value, 0.001)
}

func TestVectorTile_Empty204(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(`FROM catalog\.pg_vector_tables`).
		WithArgs("upload_abc").
		WillReturnRows(vectorTableRows("upload_abc"))
	env.mock.ExpectQuery(`ST_AsMVT`).
		WillReturnRows(pgxmock.NewRows([]string{"st_asmvt"}).AddRow([]byte{}))

	rec := env.get(t, "/vector-tiles/3/4/2?table_name=upload_abc")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestVectorTile_ServedAndCached(t *testing.T) {
	env := newTestEnv(t)
	tile := []byte{0x1a, 0x05, 0x66, 0x61, 0x6b, 0x65, 0x21}

	env.mock.ExpectQuery(`FROM catalog\.pg_vector_tables`).
		WithArgs("upload_abc").
		WillReturnRows(vectorTableRows("upload_abc"))
	env.mock.ExpectQuery(`ST_AsMVT`).
		WillReturnRows(pgxmock.NewRows([]string{"st_asmvt"}).AddRow(tile))

	rec := env.get(t, "/vector-tiles/3/4/2?table_name=upload_abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mvtContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, tile, rec.Body.Bytes())

	// Second request is answered from the cache without further SQL.
	rec = env.get(t, "/vector-tiles/3/4/2?table_name=upload_abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tile, rec.Body.Bytes())
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestVectorTile_TableNotFound(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(`FROM catalog\.pg_vector_tables`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	rec := env.get(t, "/vector-tiles/3/4/2?table_name=missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBoundaryTile(t *testing.T) {
	env := newTestEnv(t)
	tile := []byte{0x1a, 0x02, 0x68, 0x69}

	env.mock.ExpectQuery(`FROM boundaries\.country_boundaries`).
		WithArgs(1, 0, 0, "NLD").
		WillReturnRows(pgxmock.NewRows([]string{"st_asmvt"}).AddRow(tile))

	rec := env.get(t, "/boundary-tiles/1/0/0?gid_0=NLD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tile, rec.Body.Bytes())
}

func vectorTableRows(name string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "layer_id", "time", "table_name", "geometry_type",
		"bounds", "columns", "status", "created_at",
	}).AddRow(1, uuid.New(), time.Now(), name, "MultiPolygon",
		[]float64{0, 0, 1, 1}, []byte(`{"name":"text"}`), catalog.VectorTableReady, time.Now())
}

func writeBasemapArchive(t *testing.T, dir, source string) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(dir, source+".mbtiles"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE metadata (name TEXT, value TEXT);
		CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
	`)
	require.NoError(t, err)

	meta := map[string]string{
		"name":    source,
		"format":  "pbf",
		"minzoom": "0",
		"maxzoom": "14",
		"bounds":  "-180, -85.05, 180, 85.05",
		"center":  "0, 0, 2",
	}
	for k, v := range meta {
		_, err = db.Exec("INSERT INTO metadata (name, value) VALUES (?, ?)", k, v)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write([]byte("fake-mvt-payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	_, err = db.Exec("INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (0, 0, 0, ?)", buf.Bytes())
	require.NoError(t, err)
}

func TestBasemapTile(t *testing.T) {
	env := newTestEnv(t)
	writeBasemapArchive(t, env.cfg.Basemap.ArchiveDir, "planet")

	rec := env.get(t, "/tile-gl/tile/planet/0/0/0.pbf")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer zr.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(zr)
	require.NoError(t, err)
	assert.Equal(t, "fake-mvt-payload", out.String())
}

func TestBasemapTile_EmptyAndMissing(t *testing.T) {
	env := newTestEnv(t)
	writeBasemapArchive(t, env.cfg.Basemap.ArchiveDir, "planet")

	rec := env.get(t, "/tile-gl/tile/planet/3/1/1.pbf")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.get(t, "/tile-gl/tile/atlantis/0/0/0.pbf")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasemapTile_OutOfRange(t *testing.T) {
	env := newTestEnv(t)
	writeBasemapArchive(t, env.cfg.Basemap.ArchiveDir, "planet")

	rec := env.get(t, "/tile-gl/tile/planet/0/5/0.pbf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTileJSON(t *testing.T) {
	env := newTestEnv(t)
	writeBasemapArchive(t, env.cfg.Basemap.ArchiveDir, "planet")

	rec := env.get(t, "/tile-gl/tile-json/planet.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var tj struct {
		Tiles  []string `json:"tiles"`
		Scheme string   `json:"scheme"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tj))
	require.Len(t, tj.Tiles, 1)
	assert.Equal(t, "http://tiles.test/tile-gl/tile/planet/{z}/{x}/{y}.pbf", tj.Tiles[0])
	assert.Equal(t, "xyz", tj.Scheme)
}

func TestGLStyle(t *testing.T) {
	env := newTestEnv(t)
	template := `{"version":8,"sources":{"planet":{"type":"vector","tiles":["http://old"]}},"layers":[]}`
	require.NoError(t, os.WriteFile(
		filepath.Join(env.cfg.Basemap.StyleDir, "dark.json"), []byte(template), 0o644))

	rec := env.get(t, "/tile-gl/style/dark.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var style struct {
		Sources map[string]struct {
			URL   string   `json:"url"`
			Tiles []string `json:"tiles"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &style))
	assert.Equal(t, "http://tiles.test/tile-gl/tile-json/dark.json", style.Sources["planet"].URL)
	assert.Empty(t, style.Sources["planet"].Tiles)

	rec = env.get(t, "/tile-gl/style/missing.json")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGeostoreAdmin_NotFound(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(`FROM boundaries\.geostore WHERE lookup_hash`).
		WillReturnError(pgx.ErrNoRows)
	env.mock.ExpectQuery(`FROM boundaries\.country_boundaries`).
		WillReturnError(pgx.ErrNoRows)

	rec := env.get(t, "/geostore/admin/ATL")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGeostoreAdmin_BadID1(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/geostore/admin/NLD/twelve")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAndPublish_FormErrors(t *testing.T) {
	env := newTestEnv(t)

	// Publish referencing a file that was never uploaded.
	form := url.Values{
		"layer": {uuid.New().String()},
		"time":  {"2026-01-01T00:00:00Z"},
		"file":  {"ghost.tif"},
	}
	req := httptest.NewRequest(http.MethodPost, "/publish", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool              `json:"success"`
		Form    map[string]string `json:"form"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Form["file"], "not found")
}

func TestPublish_DuplicateTimeRejectedBeforeConvert(t *testing.T) {
	env := newTestEnv(t)
	layerID := uuid.New()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	uploaded := filepath.Join(env.cfg.Raster.UploadDir, "upload.tif")
	require.NoError(t, os.MkdirAll(env.cfg.Raster.UploadDir, 0o755))
	require.NoError(t, os.WriteFile(uploaded, []byte("tiff"), 0o644))

	env.mock.ExpectQuery(`FROM catalog\.layers WHERE id`).
		WithArgs(layerID).
		WillReturnRows(layerRows(layerID, uuid.New()))
	env.mock.ExpectQuery(`FROM catalog\.layer_raster_files WHERE layer_id = \$1 AND time = \$2`).
		WithArgs(layerID, at).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}).
			AddRow(1, layerID, at, "/elsewhere.tif", ""))

	form := url.Values{
		"layer": {layerID.String()},
		"time":  {"2026-01-01T00:00:00Z"},
		"file":  {"upload.tif"},
	}
	req := httptest.NewRequest(http.MethodPost, "/publish", bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool              `json:"success"`
		Form    map[string]string `json:"form"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Contains(t, body.Form["time"], "already published")
	// No conversion output may exist for the rejected publish.
	entries, err := os.ReadDir(env.cfg.Raster.DataDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}
