// Package server exposes the engine over HTTP: tile endpoints, pixel
// queries, the mapviewer bootstrap config and the upload/publish surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/basemap"
	"github.com/climsite/tile-engine/internal/boundary"
	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/config"
	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/rastercodec"
	"github.com/climsite/tile-engine/internal/tilecache"
	"github.com/climsite/tile-engine/internal/vectorimport"
	"github.com/climsite/tile-engine/internal/vectortile"
	"github.com/climsite/tile-engine/internal/wms"
)

// Deps carries everything the HTTP layer serves from.
type Deps struct {
	Config   *config.Config
	Store    *catalog.Store
	Vector   *vectortile.Generator
	Basemaps *basemap.Service
	Resolver *boundary.Resolver
	Codec    *rastercodec.Codec
	Importer *vectorimport.Importer
	WMSProxy *wms.Proxy
	Cache    tilecache.Cache
}

// Server handles HTTP requests.
type Server struct {
	cfg      *config.Config
	store    *catalog.Store
	vector   *vectortile.Generator
	basemaps *basemap.Service
	resolver *boundary.Resolver
	codec    *rastercodec.Codec
	importer *vectorimport.Importer
	wmsProxy *wms.Proxy
	cache    tilecache.Cache
	log      *zap.Logger
}

func New(deps Deps) *Server {
	return &Server{
		cfg:      deps.Config,
		store:    deps.Store,
		vector:   deps.Vector,
		basemaps: deps.Basemaps,
		resolver: deps.Resolver,
		codec:    deps.Codec,
		importer: deps.Importer,
		wmsProxy: deps.WMSProxy,
		cache:    deps.Cache,
		log:      zap.L().With(zap.String("component", "server")),
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/raster-tiles/{z}/{x}/{y}", s.handleRasterTile)
	r.Get("/raster-data/pixel", s.handlePixel)
	r.Get("/raster-data/pixel/timeseries", s.handlePixelTimeseries)

	r.Get("/vector-tiles/{z}/{x}/{y}", s.handleVectorTile)
	r.Get("/boundary-tiles/{z}/{x}/{y}", s.handleBoundaryTile)

	r.Get("/tile-gl/tile/{source}/{z}/{x}/{y}.pbf", s.handleBasemapTile)
	r.Get("/tile-gl/tile-json/{source}.json", s.handleTileJSON)
	r.Get("/tile-gl/style/{name}.json", s.handleGLStyle)

	r.Get("/mapviewer-config", s.handleMapViewerConfig)
	r.Get("/wms-proxy/{layer}", s.handleWMSProxy)

	r.Get("/geostore/{id}", s.handleGeostoreGet)
	r.Get("/geostore/admin/{iso}", s.handleGeostoreAdmin)
	r.Get("/geostore/admin/{iso}/{id1}", s.handleGeostoreAdmin)
	r.Get("/geostore/admin/{iso}/{id1}/{id2}", s.handleGeostoreAdmin)
	r.Post("/geostore", s.handleGeostoreCreate)

	r.Post("/upload", s.handleUpload)
	r.Post("/publish", s.handlePublish)

	return r
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", zap.Int("port", s.cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.Server.AllowedOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMapViewerConfig(w http.ResponseWriter, r *http.Request) {
	opts := catalog.MapViewerOptions{BaseURL: s.cfg.Server.BaseURL}
	if s.cfg.Alerts.LayerURL != "" {
		opts.AlertLayer = &catalog.AlertLayer{Name: "alerts", Tiles: s.cfg.Alerts.LayerURL}
	}

	cfg, err := s.store.BuildMapViewerConfig(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err, "build mapviewer config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// fail logs a server fault and answers 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	s.log.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": msg})
}
