package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// tileCoords parses the {z}/{x}/{y} route params. Range checks beyond
// "is an integer" belong to the tile generators.
func tileCoords(r *http.Request) (z, x, y int, err error) {
	z, err = strconv.Atoi(chi.URLParam(r, "z"))
	if err != nil {
		return 0, 0, 0, eris.New("invalid z")
	}
	x, err = strconv.Atoi(chi.URLParam(r, "x"))
	if err != nil {
		return 0, 0, 0, eris.New("invalid x")
	}
	y, err = strconv.Atoi(chi.URLParam(r, "y"))
	if err != nil {
		return 0, 0, 0, eris.New("invalid y")
	}
	return z, x, y, nil
}

func layerIDParam(r *http.Request) (uuid.UUID, error) {
	raw := r.URL.Query().Get("layer")
	if raw == "" {
		return uuid.Nil, eris.New("missing layer parameter")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, eris.New("invalid layer parameter")
	}
	return id, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, eris.Errorf("missing %s parameter", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid %s parameter", name)
	}
	return t, nil
}

func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, eris.Errorf("missing %s parameter", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Errorf("invalid %s parameter", name)
	}
	return v, nil
}
