package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/config"
	"github.com/climsite/tile-engine/internal/db"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tile-engine",
	Short: "Geospatial dataset and tile serving engine",
	Long:  "Ingests raster and vector datasets into PostGIS-backed storage and serves raster, vector, boundary and basemap tiles to map clients.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// enginePool opens the shared PostGIS pool from config.
func enginePool(ctx context.Context) (*pgxpool.Pool, error) {
	return db.Open(ctx, cfg.Database.URL)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
