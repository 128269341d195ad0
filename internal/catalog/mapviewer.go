package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/style"
)

// MapViewerOptions configures config assembly.
type MapViewerOptions struct {
	BaseURL    string
	AlertLayer *AlertLayer
	Now        time.Time // zero means time.Now
}

// AlertLayer is an extra descriptor appended verbatim from server config.
type AlertLayer struct {
	Name  string `json:"name"`
	Tiles string `json:"tiles"`
}

// MapViewerConfig is the payload of GET /mapviewer-config.
type MapViewerConfig struct {
	Datasets      []DatasetEntry `json:"datasets"`
	BoundaryTiles string         `json:"boundaryTiles"`
	Sprites       []string       `json:"sprites,omitempty"`
	AlertLayer    *AlertLayer    `json:"alertLayer,omitempty"`
}

// DatasetEntry describes one published dataset to the viewer.
type DatasetEntry struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Summary      string       `json:"summary,omitempty"`
	Category     string       `json:"category,omitempty"`
	SubCategory  string       `json:"subCategory,omitempty"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Layers       []LayerEntry `json:"layers"`
}

// LayerEntry describes one servable layer.
type LayerEntry struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Type               string              `json:"type"`
	Tiles              string              `json:"tiles"`
	Times              []string            `json:"times,omitempty"`
	CurrentTime        string              `json:"currentTime,omitempty"`
	CurrentTimeMethod  string              `json:"currentTimeMethod,omitempty"`
	AutoUpdateInterval *int                `json:"autoUpdateInterval,omitempty"`
	Legend             []style.LegendEntry `json:"legend,omitempty"`
	RenderLayers       []RenderLayer       `json:"renderLayers,omitempty"`
	Tables             map[string]string   `json:"tables,omitempty"`
}

// BuildMapViewerConfig assembles the viewer configuration: every published
// and public dataset whose layers have something to serve, plus the
// boundary tile template and the optional alert layer.
func (s *Store) BuildMapViewerConfig(ctx context.Context, opts MapViewerOptions) (*MapViewerConfig, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	datasets, err := s.ListPublishedDatasets(ctx)
	if err != nil {
		return nil, err
	}
	categories, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	categoryNames := make(map[int]string)
	subCategoryNames := make(map[int]string)
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
		for _, sc := range c.SubCategories {
			subCategoryNames[sc.ID] = sc.Name
		}
	}

	cfg := &MapViewerConfig{
		Datasets:      []DatasetEntry{},
		BoundaryTiles: opts.BaseURL + "/boundary-tiles/{z}/{x}/{y}",
		AlertLayer:    opts.AlertLayer,
	}

	spriteSeen := make(map[string]struct{})

	for i := range datasets {
		d := &datasets[i]

		layers, err := s.ListLayers(ctx, d.ID)
		if err != nil {
			return nil, err
		}

		entry := DatasetEntry{
			ID:           d.ID.String(),
			Title:        d.Title,
			Summary:      d.Summary,
			Capabilities: capabilities(d),
		}
		if d.CategoryID != nil {
			entry.Category = categoryNames[*d.CategoryID]
		}
		if d.SubCategoryID != nil {
			entry.SubCategory = subCategoryNames[*d.SubCategoryID]
		}

		for j := range layers {
			le, sprites, err := s.layerEntry(ctx, d, &layers[j], opts.BaseURL, now)
			if err != nil {
				return nil, err
			}
			if le == nil {
				continue
			}
			entry.Layers = append(entry.Layers, *le)
			for _, sprite := range sprites {
				spriteSeen[sprite] = struct{}{}
			}
		}

		if len(entry.Layers) > 0 {
			cfg.Datasets = append(cfg.Datasets, entry)
		}
	}

	if len(spriteSeen) > 0 {
		cfg.Sprites = make([]string, 0, len(spriteSeen))
		for sprite := range spriteSeen {
			cfg.Sprites = append(cfg.Sprites, sprite)
		}
		sort.Strings(cfg.Sprites)
	}

	return cfg, nil
}

// layerEntry builds the viewer entry for one layer. File and vector layers
// without any published time are omitted (nil, nil).
func (s *Store) layerEntry(ctx context.Context, d *Dataset, l *Layer, baseURL string, now time.Time) (*LayerEntry, []string, error) {
	le := &LayerEntry{
		ID:                 l.ID.String(),
		Title:              l.Title,
		Type:               string(d.LayerType),
		CurrentTimeMethod:  string(d.CurrentTimeMethod),
		AutoUpdateInterval: d.AutoUpdateMinutes,
	}

	switch d.LayerType {
	case LayerTypeFile:
		files, err := s.ListRasterFiles(ctx, l.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(files) == 0 {
			return nil, nil, nil
		}

		times := make([]time.Time, len(files))
		for i, f := range files {
			times[i] = f.Time
		}
		le.Times = formatTimes(times)
		le.CurrentTime = CurrentTime(d.CurrentTimeMethod, times, now).UTC().Format(time.RFC3339)
		le.Tiles = fmt.Sprintf("%s/raster-tiles/{z}/{x}/{y}?layer=%s&time={time}", baseURL, l.ID)

		if l.StyleID != nil {
			rs, err := s.GetStyle(ctx, *l.StyleID)
			if err != nil && !eris.Is(err, ErrNotFound) {
				return nil, nil, err
			}
			if rs != nil {
				le.Legend = style.Legend(rs)
			}
		}
		return le, nil, nil

	case LayerTypeVector:
		tables, err := s.ListVectorTables(ctx, l.ID)
		if err != nil {
			return nil, nil, err
		}
		if len(tables) == 0 {
			return nil, nil, nil
		}

		times := make([]time.Time, len(tables))
		le.Tables = make(map[string]string, len(tables))
		for i, vt := range tables {
			times[i] = vt.Time
			le.Tables[vt.Time.UTC().Format(time.RFC3339)] = vt.TableName
		}
		le.Times = formatTimes(times)
		le.CurrentTime = CurrentTime(d.CurrentTimeMethod, times, now).UTC().Format(time.RFC3339)
		le.Tiles = baseURL + "/vector-tiles/{z}/{x}/{y}?table_name={table_name}"

		le.RenderLayers = make([]RenderLayer, len(l.RenderLayers))
		for i, rl := range l.RenderLayers {
			le.RenderLayers[i] = viewerRenderLayer(rl)
		}
		return le, spriteRefs(l.RenderLayers), nil

	case LayerTypeWMS:
		le.Tiles = fmt.Sprintf("%s/wms-proxy/%s?bbox={bbox-epsg-3857}&width=256&height=256", baseURL, l.ID)
		return le, nil, nil
	}

	return nil, nil, eris.Errorf("catalog: unknown layer type %q", d.LayerType)
}

// capabilities lists the viewer feature flags for a dataset.
func capabilities(d *Dataset) []string {
	var caps []string
	if d.MultiTemporal {
		caps = append(caps, "timeseries")
	}
	if d.NearRealTime {
		caps = append(caps, "nearRealTime")
	}
	return caps
}

func formatTimes(times []time.Time) []string {
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = t.UTC().Format(time.RFC3339)
	}
	return out
}
