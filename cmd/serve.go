package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/climsite/tile-engine/internal/basemap"
	"github.com/climsite/tile-engine/internal/boundary"
	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/feedpoller"
	"github.com/climsite/tile-engine/internal/rastercodec"
	"github.com/climsite/tile-engine/internal/server"
	"github.com/climsite/tile-engine/internal/tilecache"
	"github.com/climsite/tile-engine/internal/vectorimport"
	"github.com/climsite/tile-engine/internal/vectortile"
	"github.com/climsite/tile-engine/internal/wms"
)

var (
	servePort int
	serveFeed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tile and catalog HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := enginePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := catalog.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "serve: migrate")
		}

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		cache, err := newTileCache(ctx)
		if err != nil {
			return err
		}

		store := catalog.NewStore(pool)
		codec := rastercodec.New(cfg.Raster.GDALTranslateBin, cfg.Raster.GDALInfoBin)
		basemaps := basemap.NewService(cfg.Basemap.ArchiveDir, cfg.Basemap.StyleDir)
		defer basemaps.Close()

		srv := server.New(server.Deps{
			Config:   cfg,
			Store:    store,
			Vector:   vectortile.NewGenerator(pool, store),
			Basemaps: basemaps,
			Resolver: boundary.NewResolver(pool),
			Codec:    codec,
			Importer: vectorimport.NewImporter(pool, store, cfg.Vector.Ogr2OgrBin, cfg.Database.URL),
			WMSProxy: wms.NewProxy(cfg.WMS.RatePerSecond),
			Cache:    cache,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx) })
		if serveFeed {
			poller := feedpoller.New(store, codec, cfg.Raster.DataDir)
			g.Go(func() error {
				if err := poller.Run(gctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
		return g.Wait()
	},
}

// newTileCache builds the configured tile cache backend.
func newTileCache(ctx context.Context) (tilecache.Cache, error) {
	ttl := time.Duration(cfg.TileCache.TTLSecs) * time.Second
	switch cfg.TileCache.Backend {
	case "", "memory":
		return tilecache.NewMemory(cfg.TileCache.MaxEntries, ttl), nil
	case "redis":
		return tilecache.NewRedis(ctx, cfg.TileCache.RedisAddr, ttl)
	case "off":
		return nil, nil
	default:
		return nil, eris.Errorf("serve: unknown tile cache backend %q", cfg.TileCache.Backend)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveFeed, "poll-feeds", true, "run the near-real-time feed poller alongside the server")
	rootCmd.AddCommand(serveCmd)
}
