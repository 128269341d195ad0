package basemap

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// TileJSON is the tile service descriptor served per archive.
type TileJSON struct {
	TileJSON     string        `json:"tilejson"`
	Name         string        `json:"name"`
	Format       string        `json:"format"`
	Scheme       string        `json:"scheme"`
	Tiles        []string      `json:"tiles"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	Bounds       []float64     `json:"bounds,omitempty"`
	Center       []float64     `json:"center,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	Description  string        `json:"description,omitempty"`
	Version      string        `json:"version,omitempty"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
}

// TileJSON builds the descriptor for this archive. base is the public tile
// URL prefix, e.g. "https://host/tile-gl/tile/planet".
func (a *Archive) TileJSON(base string) TileJSON {
	return TileJSON{
		TileJSON: "2.2.0",
		Name:     a.desc.Name,
		Format:   a.desc.Format,
		// Tiles are flipped to XYZ at read time regardless of the stored
		// scheme.
		Scheme:       "xyz",
		Tiles:        []string{base + "/{z}/{x}/{y}.pbf"},
		MinZoom:      a.desc.MinZoom,
		MaxZoom:      a.desc.MaxZoom,
		Bounds:       a.desc.Bounds,
		Center:       a.desc.Center,
		Attribution:  a.desc.Attribution,
		Description:  a.desc.Description,
		Version:      a.desc.Version,
		VectorLayers: a.desc.VectorLayers,
	}
}

// mergeEmbeddedJSON folds the metadata "json" field into the descriptor.
func mergeEmbeddedJSON(desc *Descriptor, embedded string) error {
	var layerData struct {
		VectorLayers []VectorLayer `json:"vector_layers"`
	}
	if err := json.Unmarshal([]byte(embedded), &layerData); err != nil {
		return eris.Wrap(err, "basemap: decode embedded json metadata")
	}
	desc.VectorLayers = layerData.VectorLayers
	return nil
}

// ComposeStyle merges a stored GL style template with the generated tile
// endpoint: every vector source in the template is pointed at tileJSONURL.
func ComposeStyle(template []byte, tileJSONURL string) ([]byte, error) {
	var style map[string]any
	if err := json.Unmarshal(template, &style); err != nil {
		return nil, eris.Wrap(err, "basemap: decode style template")
	}

	sources, _ := style["sources"].(map[string]any)
	for name, raw := range sources {
		source, ok := raw.(map[string]any)
		if !ok || source["type"] != "vector" {
			continue
		}
		delete(source, "tiles")
		source["url"] = tileJSONURL
		sources[name] = source
	}

	out, err := json.Marshal(style)
	if err != nil {
		return nil, eris.Wrap(err, "basemap: encode style")
	}
	return out, nil
}
