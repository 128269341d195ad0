package rastercodec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Metadata describes an inspected raster.
type Metadata struct {
	Driver     string
	Width      int
	Height     int
	CRS        string
	Bounds     [4]float64 // west, south, east, north
	BandCount  int
	NoData     *float64
	Variables  []string    // NetCDF data variables
	Timestamps []time.Time // NetCDF time steps, in band order
}

// Inspect runs gdalinfo on the path. For NetCDF containers with multiple
// subdatasets the first (or the only) data variable is inspected a second
// time to resolve band count, nodata and time steps.
func (c *Codec) Inspect(ctx context.Context, path string) (*Metadata, error) {
	info, err := c.info(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		Driver:    info.DriverShortName,
		CRS:       info.CoordinateSystem.WKT,
		BandCount: len(info.Bands),
	}
	if len(info.Size) == 2 {
		meta.Width, meta.Height = info.Size[0], info.Size[1]
	}
	meta.Bounds = info.bounds()

	if meta.Driver == "netCDF" {
		meta.Variables = info.subdatasetVariables()
		if len(meta.Variables) > 0 && len(info.Bands) == 0 {
			sub, err := c.info(ctx, fmt.Sprintf("NETCDF:%q:%s", path, meta.Variables[0]))
			if err != nil {
				return nil, err
			}
			info = sub
			meta.BandCount = len(sub.Bands)
			if len(sub.Size) == 2 {
				meta.Width, meta.Height = sub.Size[0], sub.Size[1]
			}
			meta.CRS = sub.CoordinateSystem.WKT
			meta.Bounds = sub.bounds()
		}
		meta.Timestamps = info.timestamps()
	}

	if len(info.Bands) > 0 {
		meta.NoData = info.Bands[0].NoDataValue.ptr()
	}

	return meta, nil
}

func (c *Codec) info(ctx context.Context, source string) (*gdalInfo, error) {
	cmd := exec.CommandContext(ctx, c.infoBin, "-json", source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "rastercodec: gdalinfo failed for %s: %s",
			source, stderr.String())
	}
	return parseGdalInfo(stdout.Bytes())
}

// gdalInfo is the subset of gdalinfo -json output the converter reads.
type gdalInfo struct {
	DriverShortName  string `json:"driverShortName"`
	Size             []int  `json:"size"`
	CoordinateSystem struct {
		WKT string `json:"wkt"`
	} `json:"coordinateSystem"`
	CornerCoordinates struct {
		UpperLeft  []float64 `json:"upperLeft"`
		LowerRight []float64 `json:"lowerRight"`
	} `json:"cornerCoordinates"`
	Metadata map[string]map[string]string `json:"metadata"`
	Bands    []struct {
		NoDataValue flexFloat `json:"noDataValue"`
	} `json:"bands"`
}

// nanToken matches the bare NaN literals older gdalinfo versions emit,
// which encoding/json rejects.
var nanToken = regexp.MustCompile(`:\s*(NaN|-?Infinity)\b`)

func parseGdalInfo(raw []byte) (*gdalInfo, error) {
	raw = nanToken.ReplaceAll(raw, []byte(`:"$1"`))

	var info gdalInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, eris.Wrap(err, "rastercodec: decode gdalinfo output")
	}
	return &info, nil
}

func (g *gdalInfo) bounds() [4]float64 {
	ul, lr := g.CornerCoordinates.UpperLeft, g.CornerCoordinates.LowerRight
	if len(ul) < 2 || len(lr) < 2 {
		return [4]float64{}
	}
	return [4]float64{ul[0], lr[1], lr[0], ul[1]}
}

// subdatasetVariables lists NetCDF data variables in subdataset order.
func (g *gdalInfo) subdatasetVariables() []string {
	subs := g.Metadata["SUBDATASETS"]

	type entry struct {
		n    int
		name string
	}
	var entries []entry
	for key, value := range subs {
		if !strings.HasSuffix(key, "_NAME") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(key, "SUBDATASET_"), "_NAME"))
		if err != nil {
			continue
		}
		// NETCDF:"file.nc":variable
		if i := strings.LastIndex(value, ":"); i >= 0 {
			entries = append(entries, entry{n: n, name: value[i+1:]})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// timeUnits matches CF-convention time units, e.g. "days since 2024-01-01".
var timeUnits = regexp.MustCompile(`^(seconds|minutes|hours|days) since (.+)$`)

// timestamps decodes the NetCDF time dimension. Missing or unparseable
// time metadata yields nil, which is fine for static rasters.
func (g *gdalInfo) timestamps() []time.Time {
	attrs := g.Metadata[""]
	values := attrs["NETCDF_DIM_time_VALUES"]
	if values == "" {
		return nil
	}

	m := timeUnits.FindStringSubmatch(strings.TrimSpace(attrs["time#units"]))
	if m == nil {
		return nil
	}

	base, err := parseBaseTime(m[2])
	if err != nil {
		return nil
	}

	var unit time.Duration
	switch m[1] {
	case "seconds":
		unit = time.Second
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	}

	var out []time.Time
	for _, field := range strings.Split(strings.Trim(values, "{}"), ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil
		}
		out = append(out, base.Add(time.Duration(v*float64(unit))))
	}
	return out
}

func parseBaseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339,
		"2006-1-2 15:4:5",
		"2006-1-2T15:4:5",
		"2006-1-2",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("rastercodec: unrecognized time base %q", s)
}

// flexFloat decodes numbers that gdalinfo sometimes emits as quoted
// strings ("nan", "inf").
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		return nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		switch strings.ToLower(s) {
		case "nan":
			f.value, f.set = math.NaN(), true
			return nil
		case "infinity", "inf":
			f.value, f.set = math.Inf(1), true
			return nil
		case "-infinity", "-inf":
			f.value, f.set = math.Inf(-1), true
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		f.value, f.set = v, true
		return nil
	}

	if err := json.Unmarshal(raw, &f.value); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}
