package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func datasetRow(d *Dataset) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "title", "summary", "layer_type", "category_id", "sub_category_id",
		"published", "public", "multi_temporal", "multi_layer", "near_real_time",
		"current_time_method", "auto_update_minutes", "auto_update_url",
		"auto_update_variable", "created_at", "updated_at",
	}).AddRow(d.ID, d.Title, d.Summary, d.LayerType, d.CategoryID, d.SubCategoryID,
		d.Published, d.Public, d.MultiTemporal, d.MultiLayer, d.NearRealTime,
		d.CurrentTimeMethod, d.AutoUpdateMinutes, d.AutoUpdateURL,
		d.AutoUpdateVariable, d.CreatedAt, d.UpdatedAt)
}

func TestBuildMapViewerConfig_WMSDataset(t *testing.T) {
	s, mock := newMockStore(t)

	catID := 3
	d := &Dataset{
		ID:                uuid.New(),
		Title:             "Flood Warnings",
		LayerType:         LayerTypeWMS,
		CategoryID:        &catID,
		Published:         true,
		Public:            true,
		NearRealTime:      true,
		CurrentTimeMethod: CurrentTimeLatestFromSource,
	}
	layerID := uuid.New()

	mock.ExpectQuery(`FROM catalog\.datasets`).
		WillReturnRows(datasetRow(d))
	mock.ExpectQuery(`SELECT id, name, position FROM catalog.categories`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "position"}).
			AddRow(3, "Hazards", 1))
	mock.ExpectQuery(`SELECT id, category_id, name, position FROM catalog.sub_categories`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "category_id", "name", "position"}))
	mock.ExpectQuery(`FROM catalog\.layers`).
		WithArgs(d.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "dataset_id", "title", "is_default", "style_id", "render_layers",
			"wms_base_url", "wms_layers", "wms_styles", "wms_version", "wms_params",
		}).AddRow(layerID, d.ID, "Warnings", true, nil, []byte(nil),
			"https://wms.example.com", "warnings", "", "1.3.0", []byte(nil)))

	cfg, err := s.BuildMapViewerConfig(context.Background(), MapViewerOptions{
		BaseURL:    "https://tiles.example.com",
		AlertLayer: &AlertLayer{Name: "alerts", Tiles: "https://alerts.example.com/{z}/{x}/{y}"},
		Now:        time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, cfg.Datasets, 1)

	ds := cfg.Datasets[0]
	assert.Equal(t, "Flood Warnings", ds.Title)
	assert.Equal(t, "Hazards", ds.Category)
	assert.Equal(t, []string{"nearRealTime"}, ds.Capabilities)

	require.Len(t, ds.Layers, 1)
	assert.Equal(t, "wms", ds.Layers[0].Type)
	assert.Contains(t, ds.Layers[0].Tiles, "/wms-proxy/"+layerID.String())

	assert.Equal(t, "https://tiles.example.com/boundary-tiles/{z}/{x}/{y}", cfg.BoundaryTiles)
	require.NotNil(t, cfg.AlertLayer)
	assert.Equal(t, "alerts", cfg.AlertLayer.Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildMapViewerConfig_SkipsEmptyFileLayer(t *testing.T) {
	s, mock := newMockStore(t)

	d := &Dataset{
		ID:                uuid.New(),
		Title:             "Rainfall",
		LayerType:         LayerTypeFile,
		Published:         true,
		Public:            true,
		CurrentTimeMethod: CurrentTimeLatestFromSource,
	}
	layerID := uuid.New()

	mock.ExpectQuery(`FROM catalog\.datasets`).
		WillReturnRows(datasetRow(d))
	mock.ExpectQuery(`SELECT id, name, position FROM catalog.categories`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "position"}))
	mock.ExpectQuery(`SELECT id, category_id, name, position FROM catalog.sub_categories`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "category_id", "name", "position"}))
	mock.ExpectQuery(`FROM catalog\.layers`).
		WithArgs(d.ID).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "dataset_id", "title", "is_default", "style_id", "render_layers",
			"wms_base_url", "wms_layers", "wms_styles", "wms_version", "wms_params",
		}).AddRow(layerID, d.ID, "Rain", true, nil, []byte(nil), "", "", "", "", []byte(nil)))
	mock.ExpectQuery(`FROM catalog\.layer_raster_files`).
		WithArgs(layerID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "layer_id", "time", "path", "data_variable"}))

	cfg, err := s.BuildMapViewerConfig(context.Background(), MapViewerOptions{BaseURL: "http://x"})
	require.NoError(t, err)
	assert.Empty(t, cfg.Datasets, "dataset without published times is omitted")
	assert.NoError(t, mock.ExpectationsWereMet())
}
