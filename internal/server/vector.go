package server

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/tilecache"
	"github.com/climsite/tile-engine/internal/vectortile"
)

const mvtContentType = "application/vnd.mapbox-vector-tile"

func (s *Server) handleVectorTile(w http.ResponseWriter, r *http.Request) {
	z, x, y, err := tileCoords(r)
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("vector", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	table := r.URL.Query().Get("table_name")
	if table == "" {
		metrics.TilesServedTotal.WithLabelValues("vector", "400").Inc()
		badRequest(w, "missing table_name parameter")
		return
	}

	key := tilecache.Key("vector", table, z, x, y)
	if data := s.cacheGet(r, "vector", key); data != nil {
		s.writeMVT(w, data)
		metrics.TilesServedTotal.WithLabelValues("vector", "200").Inc()
		return
	}

	start := time.Now()
	data, err := s.vector.GenerateTile(r.Context(), vectortile.TileRequest{
		Table: table, Z: z, X: x, Y: y,
	})
	if err != nil {
		if eris.Is(err, vectortile.ErrTableNotFound) {
			metrics.TilesServedTotal.WithLabelValues("vector", "404").Inc()
			notFound(w, "vector table not found")
			return
		}
		s.fail(w, r, err, "generate vector tile")
		return
	}
	metrics.TileRenderSeconds.WithLabelValues("vector").Observe(time.Since(start).Seconds())

	if len(data) == 0 {
		metrics.TilesServedTotal.WithLabelValues("vector", "204").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.cachePut(r, key, data)
	metrics.TilesServedTotal.WithLabelValues("vector", "200").Inc()
	s.writeMVT(w, data)
}

func (s *Server) handleBoundaryTile(w http.ResponseWriter, r *http.Request) {
	z, x, y, err := tileCoords(r)
	if err != nil {
		metrics.TilesServedTotal.WithLabelValues("boundary", "400").Inc()
		badRequest(w, err.Error())
		return
	}
	gid0 := r.URL.Query().Get("gid_0")

	key := tilecache.Key("boundary", gid0, z, x, y)
	if data := s.cacheGet(r, "boundary", key); data != nil {
		s.writeMVT(w, data)
		metrics.TilesServedTotal.WithLabelValues("boundary", "200").Inc()
		return
	}

	start := time.Now()
	data, err := s.vector.GenerateBoundaryTile(r.Context(), vectortile.BoundaryTileRequest{
		GID0: gid0, Z: z, X: x, Y: y,
	})
	if err != nil {
		s.fail(w, r, err, "generate boundary tile")
		return
	}
	metrics.TileRenderSeconds.WithLabelValues("boundary").Observe(time.Since(start).Seconds())

	if len(data) == 0 {
		metrics.TilesServedTotal.WithLabelValues("boundary", "204").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.cachePut(r, key, data)
	metrics.TilesServedTotal.WithLabelValues("boundary", "200").Inc()
	s.writeMVT(w, data)
}

func (s *Server) writeMVT(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", mvtContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("write vector tile", zap.Error(err))
	}
}

func (s *Server) cacheGet(r *http.Request, kind, key string) []byte {
	if s.cache == nil {
		return nil
	}
	data := s.cache.Get(r.Context(), key)
	if data == nil {
		metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
		return nil
	}
	metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
	return data
}

func (s *Server) cachePut(r *http.Request, key string, data []byte) {
	if s.cache == nil {
		return
	}
	s.cache.Put(r.Context(), key, data)
}
