package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRegistered(t *testing.T) {
	TilesServedTotal.WithLabelValues("raster", "200").Inc()
	TileRenderSeconds.WithLabelValues("raster").Observe(0.02)
	CacheHitsTotal.WithLabelValues("vector").Inc()

	assert.NotZero(t, testutil.CollectAndCount(TilesServedTotal))
	assert.NotZero(t, testutil.CollectAndCount(TileRenderSeconds))

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "tileengine_tiles_served_total"))
}
