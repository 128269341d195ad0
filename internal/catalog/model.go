// Package catalog stores the dataset/layer metadata that drives tile
// serving: categories, datasets, layers, published raster files, imported
// vector tables and raster styles.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// LayerType discriminates how a dataset's layers are served.
type LayerType string

const (
	LayerTypeFile   LayerType = "file"
	LayerTypeVector LayerType = "vector"
	LayerTypeWMS    LayerType = "wms"
)

// CurrentTimeMethod selects which published time a multi-temporal layer
// shows by default.
type CurrentTimeMethod string

const (
	CurrentTimeLatestFromSource CurrentTimeMethod = "latest_from_source"
	CurrentTimePreviousToNow    CurrentTimeMethod = "previous_to_now"
	CurrentTimeNextToNow        CurrentTimeMethod = "next_to_now"
)

// Category groups datasets in the viewer sidebar.
type Category struct {
	ID            int
	Name          string
	Position      int
	SubCategories []SubCategory
}

type SubCategory struct {
	ID         int
	CategoryID int
	Name       string
	Position   int
}

// Dataset is the unit of publication.
type Dataset struct {
	ID                 uuid.UUID
	Title              string
	Summary            string
	LayerType          LayerType
	CategoryID         *int
	SubCategoryID      *int
	Published          bool
	Public             bool
	MultiTemporal      bool
	MultiLayer         bool
	NearRealTime       bool
	CurrentTimeMethod  CurrentTimeMethod
	AutoUpdateMinutes  *int
	AutoUpdateURL      string
	AutoUpdateVariable string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Layer belongs to a dataset; which columns are meaningful depends on the
// dataset's layer type.
type Layer struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	Title     string
	IsDefault bool

	// file layers
	StyleID *int

	// vector layers
	RenderLayers []RenderLayer

	// wms layers
	WMSBaseURL string
	WMSLayers  string
	WMSStyles  string
	WMSVersion string
	WMSParams  map[string]string
}

// RenderLayer is one GL sub-layer of a vector layer. Paint and layout hold
// the full property maps as uploaded; defaults are stripped only when the
// viewer config is built.
type RenderLayer struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Paint  map[string]any `json:"paint,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Filter any            `json:"filter,omitempty"`
}

// RasterFile is one published, converted COG for a file layer at a time.
type RasterFile struct {
	ID           int
	LayerID      uuid.UUID
	Time         time.Time
	Path         string
	DataVariable string
}

// VectorTableStatus tracks the two-phase vector import.
type VectorTableStatus string

const (
	VectorTablePending VectorTableStatus = "pending"
	VectorTableReady   VectorTableStatus = "ready"
)

// VectorTable records one imported table in the vectordata schema.
type VectorTable struct {
	ID           int
	LayerID      uuid.UUID
	Time         time.Time
	TableName    string
	GeometryType string
	Bounds       [4]float64 // west, south, east, north
	Columns      map[string]string
	Status       VectorTableStatus
	CreatedAt    time.Time
}
