package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/feedpoller"
	"github.com/climsite/tile-engine/internal/rastercodec"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run the near-real-time feed poller standalone",
	Long:  "Watches datasets configured with an auto-update interval and ingests newly published feed files. Normally runs inside serve; use this when the server and the poller are deployed separately.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := enginePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := catalog.NewStore(pool)
		codec := rastercodec.New(cfg.Raster.GDALTranslateBin, cfg.Raster.GDALInfoBin)

		zap.L().Info("starting feed poller", zap.String("data_dir", cfg.Raster.DataDir))
		err = feedpoller.New(store, codec, cfg.Raster.DataDir).Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
