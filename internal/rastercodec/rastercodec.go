// Package rastercodec converts uploaded rasters to cloud-optimized
// GeoTIFFs using the GDAL command line tools.
package rastercodec

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnsupportedRasterFormat is returned for input drivers the converter
// does not handle.
var ErrUnsupportedRasterFormat = eris.New("rastercodec: unsupported raster format")

// noDataSentinel replaces NaN nodata values, which survive neither the COG
// re-encode nor numeric comparisons downstream.
const noDataSentinel = -9999

// Codec shells out to gdal_translate and gdalinfo.
type Codec struct {
	translateBin string
	infoBin      string
}

// New creates a Codec. Empty bin paths fall back to the tool names on PATH.
func New(translateBin, infoBin string) *Codec {
	if translateBin == "" {
		translateBin = "gdal_translate"
	}
	if infoBin == "" {
		infoBin = "gdalinfo"
	}
	return &Codec{translateBin: translateBin, infoBin: infoBin}
}

// ConvertOptions selects what to convert. DataVariable and TimeIndex only
// apply to NetCDF inputs; TimeIndex is zero-based and -1 means all bands.
type ConvertOptions struct {
	Input        string
	Output       string
	DataVariable string
	TimeIndex    int
}

// Convert re-encodes the input as a tiled, deflate-compressed COG. NetCDF
// inputs are sliced to one data variable (and optionally one time step)
// first.
func (c *Codec) Convert(ctx context.Context, opts ConvertOptions) error {
	meta, err := c.Inspect(ctx, opts.Input)
	if err != nil {
		return err
	}

	args, err := convertArgs(meta, opts)
	if err != nil {
		return err
	}

	zap.L().Info("converting raster",
		zap.String("input", opts.Input),
		zap.String("output", opts.Output),
		zap.String("driver", meta.Driver))

	cmd := exec.CommandContext(ctx, c.translateBin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "rastercodec: gdal_translate failed for %s: %s",
			opts.Input, stderr.String())
	}
	return nil
}

// convertArgs builds the gdal_translate argument list for the inspected
// input.
func convertArgs(meta *Metadata, opts ConvertOptions) ([]string, error) {
	var args []string
	source := opts.Input

	switch meta.Driver {
	case "netCDF":
		variable := opts.DataVariable
		if variable == "" && len(meta.Variables) == 1 {
			variable = meta.Variables[0]
		}
		if variable == "" && len(meta.Variables) > 1 {
			return nil, eris.Errorf(
				"rastercodec: %s has %d data variables, one must be selected",
				opts.Input, len(meta.Variables))
		}
		if variable != "" {
			// Single-variable files without subdatasets open directly.
			source = fmt.Sprintf("NETCDF:%q:%s", opts.Input, variable)
		}

		if opts.TimeIndex >= 0 {
			if n := len(meta.Timestamps); n > 0 && opts.TimeIndex >= n {
				return nil, eris.Errorf("rastercodec: time index %d out of range (%d steps)",
					opts.TimeIndex, n)
			}
			args = append(args, "-b", fmt.Sprint(opts.TimeIndex+1))
		}

		if meta.NoData != nil && math.IsNaN(*meta.NoData) {
			args = append(args, "-a_nodata", fmt.Sprint(noDataSentinel))
		}

	case "GTiff", "COG":
		// Re-encode as-is.

	default:
		return nil, eris.Wrapf(ErrUnsupportedRasterFormat, "driver %q", meta.Driver)
	}

	// Inputs without a declared CRS are assumed geographic.
	if meta.CRS == "" {
		args = append(args, "-a_srs", "EPSG:4326")
	}

	args = append(args, "-of", "COG", "-co", "COMPRESS=DEFLATE")
	args = append(args, source, opts.Output)
	return args, nil
}
