// Package wms proxies GetMap requests to upstream WMS servers for
// layers that are served by an external provider instead of local data.
package wms

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/climsite/tile-engine/internal/catalog"
)

// ErrUpstream means the upstream WMS server answered with a non-OK status.
var ErrUpstream = eris.New("wms: upstream error")

const defaultVersion = "1.3.0"

// Params builds the GetMap query for a WMS layer. bbox is passed through
// as-is; the crs axis parameter switches between CRS (1.3.0) and SRS
// (older versions). Layer-specific extras from the catalog override the
// defaults.
func Params(layer *catalog.Layer, bbox string, width, height int) url.Values {
	version := layer.WMSVersion
	if version == "" {
		version = defaultVersion
	}

	values := url.Values{}
	values.Set("SERVICE", "WMS")
	values.Set("REQUEST", "GetMap")
	values.Set("VERSION", version)
	values.Set("LAYERS", layer.WMSLayers)
	values.Set("STYLES", layer.WMSStyles)
	values.Set("FORMAT", "image/png")
	values.Set("TRANSPARENT", "true")
	values.Set("WIDTH", strconv.Itoa(width))
	values.Set("HEIGHT", strconv.Itoa(height))
	values.Set("BBOX", bbox)

	if version == defaultVersion {
		values.Set("CRS", "EPSG:3857")
	} else {
		values.Set("SRS", "EPSG:3857")
	}

	for k, v := range layer.WMSParams {
		values.Set(k, v)
	}
	return values
}

// Proxy fetches upstream GetMap images. One rate limiter is shared across
// all layers pointing at the same Proxy instance.
type Proxy struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewProxy creates a Proxy allowing up to rps upstream requests per second.
func NewProxy(rps float64) *Proxy {
	if rps <= 0 {
		rps = 10
	}
	return &Proxy{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
	}
}

// Fetch retrieves one GetMap image for a WMS layer. Returns the image
// bytes and the upstream content type.
func (p *Proxy) Fetch(ctx context.Context, layer *catalog.Layer, bbox string, width, height int) ([]byte, string, error) {
	if layer.WMSBaseURL == "" {
		return nil, "", eris.Errorf("wms: layer %s has no upstream URL", layer.ID)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, "", eris.Wrap(err, "wms: rate limit wait")
	}

	endpoint := layer.WMSBaseURL + "?" + Params(layer, bbox, width, height).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", eris.Wrap(err, "wms: create request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", eris.Wrapf(ErrUpstream, "fetch %s: %v", layer.WMSBaseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", eris.Wrapf(ErrUpstream, "status %d from %s", resp.StatusCode, layer.WMSBaseURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", eris.Wrap(err, "wms: read response body")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	zap.L().Debug("wms: fetched upstream map",
		zap.String("layer", layer.ID.String()),
		zap.String("bbox", bbox),
		zap.Int("bytes", len(data)),
	)
	return data, contentType, nil
}
