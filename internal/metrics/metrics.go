// Package metrics exposes Prometheus collectors for tile serving.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TilesServedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileengine_tiles_served_total",
		Help: "Total tiles served by pipeline kind and response status",
	}, []string{"kind", "status"})
	TileRenderSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tileengine_tile_render_seconds",
		Help:    "Tile render duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"kind"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileengine_cache_hits_total",
		Help: "Tile cache hits by pipeline kind",
	}, []string{"kind"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileengine_cache_misses_total",
		Help: "Tile cache misses by pipeline kind",
	}, []string{"kind"})
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileengine_uploads_total",
		Help: "Dataset uploads by outcome",
	}, []string{"outcome"})
	FeedPollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tileengine_feed_polls_total",
		Help: "Auto-update feed polls by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(TilesServedTotal)
	prometheus.MustRegister(TileRenderSeconds)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(FeedPollsTotal)
}

// Handler returns the /metrics scrape endpoint.
func Handler() http.Handler { return promhttp.Handler() }
