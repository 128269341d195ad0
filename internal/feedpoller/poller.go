// Package feedpoller keeps auto-update datasets current by polling their
// upstream feeds and publishing new raster times as they appear.
package feedpoller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/rastercodec"
)

// Converter is the raster conversion surface the poller needs.
type Converter interface {
	Inspect(ctx context.Context, path string) (*rastercodec.Metadata, error)
	Convert(ctx context.Context, opts rastercodec.ConvertOptions) error
}

// Store is the catalog surface the poller needs.
type Store interface {
	ListAutoUpdateDatasets(ctx context.Context) ([]catalog.Dataset, error)
	DefaultLayer(ctx context.Context, datasetID uuid.UUID) (*catalog.Layer, error)
	RasterFileAt(ctx context.Context, layerID uuid.UUID, t time.Time) (*catalog.RasterFile, error)
	PublishRasterFile(ctx context.Context, rf *catalog.RasterFile) error
}

// Poller polls each auto-update dataset on its configured interval.
// A failed poll waits for the next tick; there is no retry within a tick.
type Poller struct {
	store   Store
	codec   Converter
	dataDir string
	tick    time.Duration

	mu       sync.Mutex
	lastPoll map[uuid.UUID]time.Time
}

func New(store Store, codec Converter, dataDir string) *Poller {
	return &Poller{
		store:    store,
		codec:    codec,
		dataDir:  dataDir,
		tick:     time.Minute,
		lastPoll: make(map[uuid.UUID]time.Time),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx, time.Now().UTC())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollOnce polls every dataset whose interval has elapsed since its last
// poll.
func (p *Poller) pollOnce(ctx context.Context, now time.Time) {
	log := zap.L().With(zap.String("component", "feedpoller"))

	datasets, err := p.store.ListAutoUpdateDatasets(ctx)
	if err != nil {
		log.Error("list auto-update datasets failed", zap.Error(err))
		return
	}

	for _, d := range datasets {
		if !p.due(d, now) {
			continue
		}
		p.markPolled(d.ID, now)

		published, err := p.pollDataset(ctx, &d, now)
		if err != nil {
			metrics.FeedPollsTotal.WithLabelValues("error").Inc()
			log.Warn("feed poll failed",
				zap.String("dataset", d.ID.String()),
				zap.String("url", d.AutoUpdateURL),
				zap.Error(err),
			)
			continue
		}

		metrics.FeedPollsTotal.WithLabelValues("ok").Inc()
		if published > 0 {
			log.Info("feed poll published new times",
				zap.String("dataset", d.ID.String()),
				zap.Int("published", published),
			)
		}
	}
}

func (p *Poller) due(d catalog.Dataset, now time.Time) bool {
	if d.AutoUpdateMinutes == nil || *d.AutoUpdateMinutes <= 0 || d.AutoUpdateURL == "" {
		return false
	}

	p.mu.Lock()
	last, ok := p.lastPoll[d.ID]
	p.mu.Unlock()

	return !ok || now.Sub(last) >= time.Duration(*d.AutoUpdateMinutes)*time.Minute
}

func (p *Poller) markPolled(id uuid.UUID, now time.Time) {
	p.mu.Lock()
	p.lastPoll[id] = now
	p.mu.Unlock()
}

// pollDataset downloads the dataset's feed file and publishes every time
// step that is not in the catalog yet. Returns the number of published
// times.
func (p *Poller) pollDataset(ctx context.Context, d *catalog.Dataset, now time.Time) (int, error) {
	layer, err := p.store.DefaultLayer(ctx, d.ID)
	if err != nil {
		return 0, err
	}

	scratch, err := os.MkdirTemp("", "feedpoller-")
	if err != nil {
		return 0, eris.Wrap(err, "feedpoller: create scratch dir")
	}
	defer os.RemoveAll(scratch) //nolint:errcheck

	feedFile := filepath.Join(scratch, "feed"+filepath.Ext(d.AutoUpdateURL))
	if _, err := download(ctx, d.AutoUpdateURL, feedFile); err != nil {
		return 0, err
	}

	meta, err := p.codec.Inspect(ctx, feedFile)
	if err != nil {
		return 0, err
	}

	times := meta.Timestamps
	if len(times) == 0 {
		// No time dimension: one snapshot per interval.
		times = []time.Time{now.Truncate(time.Duration(*d.AutoUpdateMinutes) * time.Minute)}
	}

	var published int
	for i, t := range times {
		if _, err := p.store.RasterFileAt(ctx, layer.ID, t); err == nil {
			continue
		} else if !eris.Is(err, catalog.ErrNotFound) {
			return published, err
		}

		out := filepath.Join(p.dataDir, fmt.Sprintf("%s_%s.tif", layer.ID, t.Format("20060102T150405Z")))
		opts := rastercodec.ConvertOptions{
			Input:        feedFile,
			Output:       out,
			DataVariable: d.AutoUpdateVariable,
			TimeIndex:    -1,
		}
		if len(meta.Timestamps) > 0 {
			opts.TimeIndex = i
		}
		if err := p.codec.Convert(ctx, opts); err != nil {
			return published, err
		}

		rf := &catalog.RasterFile{
			LayerID:      layer.ID,
			Time:         t,
			Path:         out,
			DataVariable: d.AutoUpdateVariable,
		}
		if err := p.store.PublishRasterFile(ctx, rf); err != nil {
			// A concurrent publisher won the race for this time.
			if eris.Is(err, catalog.ErrDuplicateTime) {
				continue
			}
			return published, err
		}
		published++
	}
	return published, nil
}
