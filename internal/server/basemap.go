package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/basemap"
	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/tilecache"
)

func (s *Server) handleBasemapTile(w http.ResponseWriter, r *http.Request) {
	z, x, y, err := tileCoords(r)
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("basemap", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	source := chi.URLParam(r, "source")

	key := tilecache.Key("basemap", source, z, x, y)
	if data := s.cacheGet(r, "basemap", key); data != nil {
		s.writeBasemapTile(w, data)
		metrics.TilesServedTotal.WithLabelValues("basemap", "200").Inc()
		return
	}

	archive, err := s.basemaps.Archive(source)
	if err != nil {
		if eris.Is(err, basemap.ErrArchiveNotFound) {
			metrics.TilesServedTotal.WithLabelValues("basemap", "404").Inc()
			notFound(w, "basemap archive not found")
			return
		}
		s.fail(w, r, err, "open basemap archive")
		return
	}

	data, err := archive.GetTile(z, x, y)
	if err != nil {
		switch {
		case eris.Is(err, basemap.ErrTileNotFound):
			metrics.TilesServedTotal.WithLabelValues("basemap", "204").Inc()
			w.WriteHeader(http.StatusNoContent)
		case eris.Is(err, basemap.ErrTileOutOfRange):
		metrics.TilesServedTotal.WithLabelValues("basemap", "400").Inc()
		badRequest(w, "tile coordinates out of range")
	case eris.Is(err, basemap.ErrTileFormatUnsupported):
			metrics.TilesServedTotal.WithLabelValues("basemap", "400").Inc()
			badRequest(w, "archive does not serve pbf tiles")
		default:
			s.fail(w, r, err, "read basemap tile")
		}
		return
	}

	s.cachePut(r, key, data)
	metrics.TilesServedTotal.WithLabelValues("basemap", "200").Inc()
	s.writeBasemapTile(w, data)
}

// writeBasemapTile sends stored pbf bytes. MBTiles vector tiles are kept
// gzip-compressed, so the encoding header is set instead of recompressing.
func (s *Server) writeBasemapTile(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("write basemap tile", zap.Error(err))
	}
}

func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	archive, err := s.basemaps.Archive(source)
	if err != nil {
		if eris.Is(err, basemap.ErrArchiveNotFound) {
			notFound(w, "basemap archive not found")
			return
		}
		s.fail(w, r, err, "open basemap archive")
		return
	}

	base := fmt.Sprintf("%s/tile-gl/tile/%s", s.cfg.Server.BaseURL, source)
	tj := archive.TileJSON(base)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, tj)
}

func (s *Server) handleGLStyle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	tileJSONURL := fmt.Sprintf("%s/tile-gl/tile-json/%s.json", s.cfg.Server.BaseURL, name)
	data, err := s.basemaps.Style(name, tileJSONURL)
	if err != nil {
		if eris.Is(err, basemap.ErrArchiveNotFound) {
			notFound(w, "style not found")
			return
		}
		s.fail(w, r, err, "compose gl style")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("write gl style", zap.Error(err))
	}
}
