package feedpoller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/rastercodec"
)

type fakeStore struct {
	datasets  []catalog.Dataset
	layer     *catalog.Layer
	published []catalog.RasterFile
	existing  map[time.Time]bool
}

func (s *fakeStore) ListAutoUpdateDatasets(context.Context) ([]catalog.Dataset, error) {
	return s.datasets, nil
}

func (s *fakeStore) DefaultLayer(context.Context, uuid.UUID) (*catalog.Layer, error) {
	return s.layer, nil
}

func (s *fakeStore) RasterFileAt(_ context.Context, layerID uuid.UUID, t time.Time) (*catalog.RasterFile, error) {
	if s.existing[t] {
		return &catalog.RasterFile{LayerID: layerID, Time: t}, nil
	}
	return nil, eris.Wrap(catalog.ErrNotFound, "raster file")
}

func (s *fakeStore) PublishRasterFile(_ context.Context, rf *catalog.RasterFile) error {
	s.published = append(s.published, *rf)
	return nil
}

type fakeConverter struct {
	meta      *rastercodec.Metadata
	converted []rastercodec.ConvertOptions
}

func (c *fakeConverter) Inspect(context.Context, string) (*rastercodec.Metadata, error) {
	return c.meta, nil
}

func (c *fakeConverter) Convert(_ context.Context, opts rastercodec.ConvertOptions) error {
	c.converted = append(c.converted, opts)
	return nil
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("netcdf-bytes"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func autoUpdateDataset(url string, minutes int) catalog.Dataset {
	return catalog.Dataset{
		ID:                 uuid.New(),
		Title:              "Precipitation forecast",
		LayerType:          catalog.LayerTypeFile,
		AutoUpdateMinutes:  &minutes,
		AutoUpdateURL:      url,
		AutoUpdateVariable: "pr",
	}
}

func TestPollDataset_PublishesNewTimes(t *testing.T) {
	srv := feedServer(t)

	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	store := &fakeStore{
		layer:    &catalog.Layer{ID: uuid.New()},
		existing: map[time.Time]bool{jan1: true},
	}
	conv := &fakeConverter{meta: &rastercodec.Metadata{
		Driver:     "netCDF",
		Timestamps: []time.Time{jan1, feb1},
	}}

	p := New(store, conv, t.TempDir())
	d := autoUpdateDataset(srv.URL, 60)

	published, err := p.pollDataset(context.Background(), &d, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	// Only the unpublished February step was converted, sliced to its band.
	require.Len(t, conv.converted, 1)
	assert.Equal(t, 1, conv.converted[0].TimeIndex)
	assert.Equal(t, "pr", conv.converted[0].DataVariable)

	require.Len(t, store.published, 1)
	assert.Equal(t, feb1, store.published[0].Time)
	assert.Equal(t, conv.converted[0].Output, store.published[0].Path)
}

func TestPollDataset_SnapshotWithoutTimeDimension(t *testing.T) {
	srv := feedServer(t)

	store := &fakeStore{
		layer:    &catalog.Layer{ID: uuid.New()},
		existing: map[time.Time]bool{},
	}
	conv := &fakeConverter{meta: &rastercodec.Metadata{Driver: "GTiff"}}

	p := New(store, conv, t.TempDir())
	d := autoUpdateDataset(srv.URL, 30)

	now := time.Date(2026, 3, 1, 10, 17, 0, 0, time.UTC)
	published, err := p.pollDataset(context.Background(), &d, now)
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	require.Len(t, conv.converted, 1)
	assert.Equal(t, -1, conv.converted[0].TimeIndex)
	assert.Equal(t, now.Truncate(30*time.Minute), store.published[0].Time)
}

func TestDue(t *testing.T) {
	store := &fakeStore{}
	p := New(store, &fakeConverter{}, t.TempDir())
	now := time.Now().UTC()

	d := autoUpdateDataset("http://example.com/feed.nc", 60)
	assert.True(t, p.due(d, now))

	p.markPolled(d.ID, now)
	assert.False(t, p.due(d, now.Add(30*time.Minute)))
	assert.True(t, p.due(d, now.Add(61*time.Minute)))

	noURL := d
	noURL.ID = uuid.New()
	noURL.AutoUpdateURL = ""
	assert.False(t, p.due(noURL, now))
}

func TestDownload_UnsupportedScheme(t *testing.T) {
	_, err := download(context.Background(), "gopher://example.com/x", t.TempDir()+"/out")
	assert.Error(t, err)
}

func TestDownload_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := download(context.Background(), srv.URL, t.TempDir()+"/out")
	assert.Error(t, err)
}
