package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/climsite/tile-engine/internal/rastercodec"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a raster file to the servable tiled format",
	Long: `Inspects a GeoTIFF or NetCDF file and converts it into the cloud-optimized
tiled layout the tile server reads. Without --output only the inspection
result is printed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		variable, _ := cmd.Flags().GetString("variable")
		timeIndex, _ := cmd.Flags().GetInt("time-index")

		codec := rastercodec.New(cfg.Raster.GDALTranslateBin, cfg.Raster.GDALInfoBin)

		meta, err := codec.Inspect(ctx, input)
		if err != nil {
			return eris.Wrap(err, "convert: inspect")
		}
		printMetadata(meta)

		if output == "" {
			return nil
		}

		err = codec.Convert(ctx, rastercodec.ConvertOptions{
			Input:        input,
			Output:       output,
			DataVariable: variable,
			TimeIndex:    timeIndex,
		})
		if err != nil {
			return eris.Wrap(err, "convert")
		}

		fmt.Printf("Wrote %s\n", output)
		return nil
	},
}

func printMetadata(meta *rastercodec.Metadata) {
	fmt.Printf("Driver:     %s\n", meta.Driver)
	fmt.Printf("Size:       %dx%d\n", meta.Width, meta.Height)
	fmt.Printf("CRS:        %s\n", meta.CRS)
	fmt.Printf("Bounds:     [%g, %g, %g, %g]\n",
		meta.Bounds[0], meta.Bounds[1], meta.Bounds[2], meta.Bounds[3])
	fmt.Printf("Bands:      %d\n", meta.BandCount)
	if meta.NoData != nil {
		fmt.Printf("NoData:     %g\n", *meta.NoData)
	}
	if len(meta.Variables) > 0 {
		fmt.Printf("Variables:  %s\n", strings.Join(meta.Variables, ", "))
	}
	if len(meta.Timestamps) > 0 {
		stamps := make([]string, len(meta.Timestamps))
		for i, t := range meta.Timestamps {
			stamps[i] = t.Format(time.RFC3339)
		}
		fmt.Printf("Timestamps: %s\n", strings.Join(stamps, ", "))
	}
}

func init() {
	convertCmd.Flags().String("input", "", "source raster (GeoTIFF or NetCDF)")
	convertCmd.Flags().String("output", "", "destination path (omit to only inspect)")
	convertCmd.Flags().String("variable", "", "NetCDF data variable")
	convertCmd.Flags().Int("time-index", -1, "0-based band/time index to extract (-1 for all)")
	_ = convertCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(convertCmd)
}
