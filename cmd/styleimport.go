package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/style"
)

var styleCmd = &cobra.Command{
	Use:   "style",
	Short: "Raster style management",
}

var styleImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a threshold style from an XLSX sheet",
	Long: `Reads (threshold, color, label) rows from the first sheet of an XLSX file
and stores them as a custom threshold style.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		file, _ := cmd.Flags().GetString("file")
		name, _ := cmd.Flags().GetString("name")
		min, _ := cmd.Flags().GetFloat64("min")
		max, _ := cmd.Flags().GetFloat64("max")
		rest, _ := cmd.Flags().GetString("rest-color")

		rows, err := style.ImportXLSX(file)
		if err != nil {
			return eris.Wrap(err, "style import")
		}

		rs := &style.RasterStyle{
			Name:            name,
			Min:             min,
			Max:             max,
			UseCustomColors: true,
			CustomRows:      rows,
			RestColor:       rest,
		}
		if err := rs.Validate(); err != nil {
			return eris.Wrap(err, "style import")
		}

		pool, err := enginePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store := catalog.NewStore(pool)
		if err := store.CreateStyle(ctx, rs); err != nil {
			return eris.Wrap(err, "style import")
		}

		fmt.Printf("Created style %d (%s) with %d threshold rows\n", rs.ID, rs.Name, len(rows))
		return nil
	},
}

func init() {
	styleImportCmd.Flags().String("file", "", "XLSX file with threshold rows")
	styleImportCmd.Flags().String("name", "", "style name")
	styleImportCmd.Flags().Float64("min", 0, "minimum data value")
	styleImportCmd.Flags().Float64("max", 0, "maximum data value")
	styleImportCmd.Flags().String("rest-color", "", "color for values above the last threshold")
	_ = styleImportCmd.MarkFlagRequired("file")
	_ = styleImportCmd.MarkFlagRequired("name")

	styleCmd.AddCommand(styleImportCmd)
	rootCmd.AddCommand(styleCmd)
}
