package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/wms"
)

func (s *Server) handleWMSProxy(w http.ResponseWriter, r *http.Request) {
	layerID, err := uuid.Parse(chi.URLParam(r, "layer"))
	if err != nil {
		badRequest(w, "invalid layer")
		return
	}
	bbox := r.URL.Query().Get("bbox")
	if bbox == "" {
		badRequest(w, "missing bbox parameter")
		return
	}
	width, err := strconv.Atoi(r.URL.Query().Get("width"))
	if err != nil || width <= 0 {
		badRequest(w, "invalid width parameter")
		return
	}
	height, err := strconv.Atoi(r.URL.Query().Get("height"))
	if err != nil || height <= 0 {
		badRequest(w, "invalid height parameter")
		return
	}

	layer, err := s.store.GetLayer(r.Context(), layerID)
	if err != nil {
		if eris.Is(err, catalog.ErrNotFound) {
			notFound(w, "layer not found")
			return
		}
		s.fail(w, r, err, "get layer")
		return
	}

	data, contentType, err := s.wmsProxy.Fetch(r.Context(), layer, bbox, width, height)
	if err != nil {
		if eris.Is(err, wms.ErrUpstream) {
			s.log.Warn("wms upstream failure",
				zap.String("layer", layerID.String()), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream wms error"})
			return
		}
		badRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Debug("write wms image", zap.Error(err))
	}
}
