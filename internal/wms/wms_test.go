package wms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climsite/tile-engine/internal/catalog"
)

func wmsLayer(baseURL string) *catalog.Layer {
	return &catalog.Layer{
		ID:         uuid.New(),
		WMSBaseURL: baseURL,
		WMSLayers:  "radar:reflectivity",
		WMSStyles:  "default",
		WMSParams:  map[string]string{"TILED": "true"},
	}
}

func TestParams(t *testing.T) {
	values := Params(wmsLayer(""), "0,0,10,10", 256, 256)

	assert.Equal(t, "WMS", values.Get("SERVICE"))
	assert.Equal(t, "GetMap", values.Get("REQUEST"))
	assert.Equal(t, "1.3.0", values.Get("VERSION"))
	assert.Equal(t, "radar:reflectivity", values.Get("LAYERS"))
	assert.Equal(t, "default", values.Get("STYLES"))
	assert.Equal(t, "0,0,10,10", values.Get("BBOX"))
	assert.Equal(t, "256", values.Get("WIDTH"))
	assert.Equal(t, "EPSG:3857", values.Get("CRS"))
	assert.Empty(t, values.Get("SRS"))
	assert.Equal(t, "true", values.Get("TILED"))
}

func TestParams_LegacyVersionUsesSRS(t *testing.T) {
	layer := wmsLayer("")
	layer.WMSVersion = "1.1.1"

	values := Params(layer, "0,0,1,1", 512, 512)
	assert.Equal(t, "EPSG:3857", values.Get("SRS"))
	assert.Empty(t, values.Get("CRS"))
	assert.Equal(t, "1.1.1", values.Get("VERSION"))
}

func TestFetch(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GetMap", r.URL.Query().Get("REQUEST"))
		assert.Equal(t, "radar:reflectivity", r.URL.Query().Get("LAYERS"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer upstream.Close()

	p := NewProxy(100)
	data, contentType, err := p.Fetch(context.Background(), wmsLayer(upstream.URL), "0,0,10,10", 256, 256)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", contentType)
}

func TestFetch_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	p := NewProxy(100)
	_, _, err := p.Fetch(context.Background(), wmsLayer(upstream.URL), "0,0,10,10", 256, 256)
	assert.True(t, eris.Is(err, ErrUpstream))
}

func TestFetch_NoUpstreamURL(t *testing.T) {
	p := NewProxy(100)
	_, _, err := p.Fetch(context.Background(), wmsLayer(""), "0,0,10,10", 256, 256)
	assert.Error(t, err)
	assert.False(t, eris.Is(err, ErrUpstream))
}
