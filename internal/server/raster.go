package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/style"
	"github.com/climsite/tile-engine/internal/tilesource"
)

func (s *Server) handleRasterTile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	z, x, y, err := tileCoords(r)
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	layerID, err := layerIDParam(r)
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	t, err := timeParam(r, "time")
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	format, err := tilesource.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
		badRequest(w, "invalid format parameter")
		return
	}
	if proj := r.URL.Query().Get("projection"); proj != "" && proj != "3857" && proj != "EPSG:3857" {
		metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
		badRequest(w, "unsupported projection")
		return
	}

	layer, err := s.store.GetLayer(ctx, layerID)
	if err != nil {
		if eris.Is(err, catalog.ErrNotFound) {
			metrics.TilesServedTotal.WithLabelValues("raster", "404").Inc()
			notFound(w, "layer not found")
			return
		}
		s.fail(w, r, err, "get layer")
		return
	}

	rasterStyle, err := s.resolveStyle(r, layer)
	if err != nil {
		status := "400"
		if eris.Is(err, catalog.ErrNotFound) {
			status = "404"
			notFound(w, "style not found")
		} else {
			badRequest(w, err.Error())
		}
		metrics.TilesServedTotal.WithLabelValues("raster", status).Inc()
		return
	}

	rf, err := s.store.RasterFileAt(ctx, layerID, t)
	if err != nil {
		if eris.Is(err, catalog.ErrNotFound) {
			metrics.TilesServedTotal.WithLabelValues("raster", "404").Inc()
			notFound(w, "no raster published at requested time")
			return
		}
		s.fail(w, r, err, "get raster file")
		return
	}

	start := time.Now()
	ts, err := tilesource.New(rf.Path, tilesource.Options{Style: rasterStyle, Format: format})
	if err != nil {
		if eris.Is(err, tilesource.ErrRasterNotFound) {
			metrics.TilesServedTotal.WithLabelValues("raster", "404").Inc()
			notFound(w, "raster file missing")
			return
		}
		s.fail(w, r, err, "open raster")
		return
	}
	defer ts.Close()

	data, mime, err := ts.GetTile(z, x, y)
	if err != nil {
		if eris.Is(err, tilesource.ErrTileOutOfRange) {
			metrics.TilesServedTotal.WithLabelValues("raster", "400").Inc()
			badRequest(w, "tile coordinates out of range")
			return
		}
		s.fail(w, r, err, "render raster tile")
		return
	}
	metrics.TileRenderSeconds.WithLabelValues("raster").Observe(time.Since(start).Seconds())
	metrics.TilesServedTotal.WithLabelValues("raster", "200").Inc()

	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("write raster tile", zap.Error(err))
	}
}

// resolveStyle picks the style for a raster request. An inline JSON body
// wins, the "layer-style" sentinel (or no parameter) falls back to the
// layer's configured style, and a layer with no style renders grayscale.
func (s *Server) resolveStyle(r *http.Request, layer *catalog.Layer) (*style.RasterStyle, error) {
	raw := r.URL.Query().Get("style")
	if raw != "" && raw != "layer-style" {
		if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
			return nil, eris.New("invalid style parameter")
		}
		return style.ParseJSON([]byte(raw))
	}
	if layer.StyleID == nil {
		return nil, nil
	}
	return s.store.GetStyle(r.Context(), *layer.StyleID)
}

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	layerID, err := layerIDParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	t, err := timeParam(r, "time")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	lon, err := floatParam(r, "x")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	lat, err := floatParam(r, "y")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rf, err := s.store.RasterFileAt(ctx, layerID, t)
	if err != nil {
		if eris.Is(err, catalog.ErrNotFound) {
			notFound(w, "no raster published at requested time")
			return
		}
		s.fail(w, r, err, "get raster file")
		return
	}

	value, err := s.pixelAt(rf.Path, lon, lat)
	if err != nil {
		if eris.Is(err, tilesource.ErrRasterNotFound) {
			notFound(w, "raster file missing")
			return
		}
		s.fail(w, r, err, "read pixel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"time":  rf.Time.UTC().Format(time.RFC3339),
		"value": value,
	})
}

func (s *Server) handlePixelTimeseries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	layerID, err := layerIDParam(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	from, err := timeParam(r, "time_from")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	to, err := timeParam(r, "time_to")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if to.Before(from) {
		badRequest(w, "time_to precedes time_from")
		return
	}
	lon, err := floatParam(r, "x")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	lat, err := floatParam(r, "y")
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	files, err := s.store.RasterFilesBetween(ctx, layerID, from, to)
	if err != nil {
		s.fail(w, r, err, "list raster files")
		return
	}

	type sample struct {
		Time  string   `json:"time"`
		Value *float64 `json:"value"`
	}
	out := make([]sample, 0, len(files))
	for _, rf := range files {
		value, err := s.pixelAt(rf.Path, lon, lat)
		if err != nil {
			if eris.Is(err, tilesource.ErrRasterNotFound) {
				s.log.Warn("raster file missing, skipping sample",
					zap.String("path", rf.Path))
				continue
			}
			s.fail(w, r, err, "read pixel")
			return
		}
		out = append(out, sample{Time: rf.Time.UTC().Format(time.RFC3339), Value: value})
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": out})
}

func (s *Server) pixelAt(path string, lon, lat float64) (*float64, error) {
	ts, err := tilesource.New(path, tilesource.Options{})
	if err != nil {
		return nil, err
	}
	defer ts.Close()
	return ts.GetPixel(lon, lat)
}
