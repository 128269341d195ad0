// Package basemap serves vector basemap tiles from MBTiles archives.
package basemap

import (
	"bytes"
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // sqlite driver
)

var (
	// ErrArchiveNotFound is returned when the MBTiles file does not exist.
	ErrArchiveNotFound = eris.New("basemap: archive not found")
	// ErrTileNotFound is returned for in-range coordinates without a tile.
	ErrTileNotFound = eris.New("basemap: tile not found")
	// ErrTileOutOfRange is returned for coordinates outside the zoom grid.
	ErrTileOutOfRange = eris.New("basemap: tile out of range")
	// ErrTileFormatUnsupported is returned when the archive holds raster
	// tiles; only pbf basemaps are served.
	ErrTileFormatUnsupported = eris.New("basemap: tile format unsupported")
)

// Descriptor is the archive metadata, normalized from the metadata table.
type Descriptor struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Attribution  string        `json:"attribution,omitempty"`
	Version      string        `json:"version,omitempty"`
	Format       string        `json:"format"`
	Scheme       string        `json:"scheme"`
	Bounds       []float64     `json:"bounds,omitempty"`
	Center       []float64     `json:"center,omitempty"`
	MinZoom      int           `json:"minzoom"`
	MaxZoom      int           `json:"maxzoom"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
}

// VectorLayer describes one layer of a vector archive, from the embedded
// json metadata field.
type VectorLayer struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	MinZoom     int            `json:"minzoom,omitempty"`
	MaxZoom     int            `json:"maxzoom,omitempty"`
}

// Archive is one open MBTiles file. Reads are concurrency-safe; database/sql
// manages its own connection pool.
type Archive struct {
	db   *sql.DB
	desc Descriptor
}

// OpenArchive opens and validates an MBTiles file, reading its metadata
// once.
func OpenArchive(path string) (*Archive, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(ErrArchiveNotFound, "%s", path)
		}
		return nil, eris.Wrapf(err, "basemap: stat %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "basemap: open %s", path)
	}

	a := &Archive{db: db}
	if err := a.validate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := a.readMetadata(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Descriptor returns the normalized archive metadata.
func (a *Archive) Descriptor() Descriptor {
	return a.desc
}

func (a *Archive) validate() error {
	var count int
	err := a.db.QueryRow(
		"SELECT count(*) FROM sqlite_master WHERE name IN ('tiles', 'metadata')",
	).Scan(&count)
	if err != nil {
		return eris.Wrap(err, "basemap: inspect archive schema")
	}
	if count < 2 {
		return eris.New("basemap: archive is missing the tiles or metadata table")
	}
	return nil
}

// gzipMagic prefixes gzip streams; pbf tiles are stored gzipped.
var gzipMagic = []byte("\x1f\x8b")

func (a *Archive) readMetadata() error {
	desc := Descriptor{Scheme: "tms"}

	rows, err := a.db.Query("SELECT name, value FROM metadata WHERE value IS NOT ''")
	if err != nil {
		return eris.Wrap(err, "basemap: read metadata")
	}
	defer rows.Close()

	var embedded string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return eris.Wrap(err, "basemap: scan metadata row")
		}

		switch key {
		case "name":
			desc.Name = value
		case "description":
			desc.Description = value
		case "attribution":
			desc.Attribution = value
		case "version":
			desc.Version = value
		case "format":
			desc.Format = value
		case "scheme":
			desc.Scheme = value
		case "minzoom":
			desc.MinZoom, err = strconv.Atoi(value)
		case "maxzoom":
			desc.MaxZoom, err = strconv.Atoi(value)
		case "bounds":
			desc.Bounds, err = parseFloatList(value, 4)
		case "center":
			desc.Center, err = parseFloatList(value, 3)
		case "json":
			embedded = value
		}
		if err != nil {
			return eris.Wrapf(err, "basemap: metadata field %s", key)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "basemap: iterate metadata")
	}

	if embedded != "" {
		if err := mergeEmbeddedJSON(&desc, embedded); err != nil {
			return err
		}
	}

	// Zoom range fallback from the tiles themselves.
	if desc.MaxZoom == 0 {
		err := a.db.QueryRow("SELECT min(zoom_level), max(zoom_level) FROM tiles").
			Scan(&desc.MinZoom, &desc.MaxZoom)
		if err != nil {
			return eris.Wrap(err, "basemap: derive zoom range")
		}
	}

	// The format field is frequently absent or wrong; a sample blob settles
	// it.
	var sample []byte
	err = a.db.QueryRow("SELECT tile_data FROM tiles LIMIT 1").Scan(&sample)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return eris.Wrap(err, "basemap: read sample tile")
	}
	if bytes.HasPrefix(sample, gzipMagic) {
		desc.Format = "pbf"
	}

	a.desc = desc
	return nil
}

// GetTile returns the gzipped pbf blob at (z, x, y) in XYZ addressing;
// MBTiles stores rows in TMS so the Y axis is flipped here.
func (a *Archive) GetTile(z, x, y int) ([]byte, error) {
	if a.desc.Format != "pbf" {
		return nil, eris.Wrapf(ErrTileFormatUnsupported, "format %q", a.desc.Format)
	}
	if z < 0 || z > 30 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return nil, eris.Wrapf(ErrTileOutOfRange, "%d/%d/%d", z, x, y)
	}

	flipped := (1 << z) - 1 - y

	var data []byte
	err := a.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		z, x, flipped,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrTileNotFound, "%d/%d/%d", z, x, y)
	}
	if err != nil {
		return nil, eris.Wrap(err, "basemap: read tile")
	}
	return data, nil
}

func parseFloatList(s string, want int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != want {
		return nil, eris.Errorf("basemap: expected %d values, got %d", want, len(parts))
	}
	out := make([]float64, want)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, eris.Wrap(err, "basemap: parse float list")
		}
		out[i] = v
	}
	return out, nil
}
