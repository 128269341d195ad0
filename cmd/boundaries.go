package main

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/boundary"
	"github.com/climsite/tile-engine/internal/catalog"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Administrative boundary data",
}

var boundariesLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Bulk-load GADM boundary shapefiles",
	Long: `Loads per-level GADM shapefiles (gadm_0.shp, gadm_1.shp, gadm_2.shp) into
boundaries.country_boundaries. Level 0 is countries, 1 regions, 2 subregions.

With --truncate, existing rows for the loaded levels are deleted first;
run that during a maintenance window, tile serving reads the same table.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pool, err := enginePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := catalog.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "boundaries load: migrate")
		}

		dir, _ := cmd.Flags().GetString("dir")
		levelsStr, _ := cmd.Flags().GetString("levels")
		truncate, _ := cmd.Flags().GetBool("truncate")

		opts := boundary.LoadOptions{Dir: dir, Truncate: truncate}
		if levelsStr != "" {
			for _, part := range strings.Split(levelsStr, ",") {
				level, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return eris.Errorf("boundaries load: invalid level %q", part)
				}
				opts.Levels = append(opts.Levels, level)
			}
		}

		zap.L().Info("loading boundaries",
			zap.String("dir", dir),
			zap.Ints("levels", opts.Levels),
			zap.Bool("truncate", truncate))

		n, err := boundary.Load(ctx, pool, opts)
		if err != nil {
			return eris.Wrap(err, "boundaries load")
		}

		fmt.Printf("Loaded %d boundary rows\n", n)
		return nil
	},
}

func init() {
	boundariesLoadCmd.Flags().String("dir", "", "directory containing gadm_<level>.shp files")
	boundariesLoadCmd.Flags().String("levels", "", "comma-separated levels to load (default: 0,1,2)")
	boundariesLoadCmd.Flags().Bool("truncate", false, "delete existing rows for the loaded levels first")
	_ = boundariesLoadCmd.MarkFlagRequired("dir")

	boundariesCmd.AddCommand(boundariesLoadCmd)
	rootCmd.AddCommand(boundariesCmd)
}
