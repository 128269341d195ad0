package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/climsite/tile-engine/internal/boundary"
)

const maxGeoJSONBody = 16 << 20

func (s *Server) handleGeostoreGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid geostore id")
		return
	}

	gs, err := s.resolver.Get(r.Context(), id)
	if err != nil {
		if eris.Is(err, boundary.ErrNotFound) {
			notFound(w, "geostore entry not found")
			return
		}
		s.fail(w, r, err, "get geostore entry")
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

func (s *Server) handleGeostoreAdmin(w http.ResponseWriter, r *http.Request) {
	req := boundary.ResolveRequest{ISO: chi.URLParam(r, "iso")}

	if raw := chi.URLParam(r, "id1"); raw != "" {
		id1, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "invalid id1")
			return
		}
		req.ID1 = &id1
	}
	if raw := chi.URLParam(r, "id2"); raw != "" {
		id2, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(w, "invalid id2")
			return
		}
		req.ID2 = &id2
	}
	if raw := r.URL.Query().Get("simplify"); raw != "" {
		tolerance, err := strconv.ParseFloat(raw, 64)
		if err != nil || tolerance < 0 {
			badRequest(w, "invalid simplify parameter")
			return
		}
		req.Simplify = tolerance
	}

	gs, err := s.resolver.Resolve(r.Context(), req)
	if err != nil {
		switch {
		case eris.Is(err, boundary.ErrInvalidRequest):
			badRequest(w, err.Error())
		case eris.Is(err, boundary.ErrNotFound):
			notFound(w, "boundary not found")
		default:
			s.fail(w, r, err, "resolve boundary")
		}
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

func (s *Server) handleGeostoreCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxGeoJSONBody))
	if err != nil {
		badRequest(w, "unreadable request body")
		return
	}
	if len(raw) == 0 {
		badRequest(w, "empty request body")
		return
	}

	gs, err := s.resolver.CreateFromGeoJSON(r.Context(), raw)
	if err != nil {
		if eris.Is(err, boundary.ErrInvalidRequest) {
			badRequest(w, "invalid geojson geometry")
			return
		}
		s.fail(w, r, err, "store geojson geometry")
		return
	}
	writeJSON(w, http.StatusCreated, gs)
}
