package vectorimport

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrInvalidFile is returned for upload types the importer does not
	// accept.
	ErrInvalidFile = eris.New("vectorimport: unsupported file type")
	// ErrNoSHP is returned when a zipped shapefile has no .shp member.
	ErrNoSHP = eris.New("vectorimport: archive contains no .shp file")
	// ErrNoSHX is returned when the .shx index sibling is missing.
	ErrNoSHX = eris.New("vectorimport: archive contains no .shx file")
	// ErrNoDBF is returned when the .dbf attribute sibling is missing.
	ErrNoDBF = eris.New("vectorimport: archive contains no .dbf file")
)

// prepareSource validates the upload and returns the path to hand to
// ogr2ogr. Zip archives are extracted into scratchDir and checked for the
// three mandatory shapefile members; GeoJSON and GeoPackage files pass
// through untouched.
func prepareSource(path, scratchDir string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return extractShapefile(path, scratchDir)
	case ".geojson", ".json", ".gpkg":
		return path, nil
	default:
		return "", eris.Wrapf(ErrInvalidFile, "%s", filepath.Base(path))
	}
}

// extractShapefile unpacks the archive flat into destDir and verifies the
// .shp/.shx/.dbf triple.
func extractShapefile(zipPath, destDir string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", eris.Wrapf(ErrInvalidFile, "open zip: %v", err)
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", eris.Wrapf(err, "vectorimport: open zip entry %s", f.Name)
		}

		destPath := filepath.Join(destDir, name)
		out, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return "", eris.Wrapf(err, "vectorimport: create %s", destPath)
		}
		if _, err := io.Copy(out, rc); err != nil {
			_ = out.Close()
			_ = rc.Close()
			return "", eris.Wrapf(err, "vectorimport: extract %s", f.Name)
		}
		_ = out.Close()
		_ = rc.Close()
	}

	shpPath, err := findByExt(destDir, ".shp")
	if err != nil {
		return "", ErrNoSHP
	}

	base := strings.TrimSuffix(shpPath, ".shp")
	if _, err := os.Stat(base + ".shx"); err != nil {
		return "", ErrNoSHX
	}
	if _, err := os.Stat(base + ".dbf"); err != nil {
		return "", ErrNoDBF
	}

	return shpPath, nil
}

func findByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "vectorimport: read extract dir")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("vectorimport: no %s file in %s", ext, dir)
}

// preflightShapefile opens the shapefile and decodes its attribute field
// names. DBF headers predate Unicode; Latin-1 is the de-facto encoding.
func preflightShapefile(shpPath string) ([]string, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "vectorimport: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	decoder := charmap.ISO8859_1.NewDecoder()

	fields := reader.Fields()
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		raw := strings.TrimRight(f.String(), "\x00")
		decoded, err := decoder.String(raw)
		if err != nil {
			return nil, eris.Wrapf(err, "vectorimport: decode field name %q", raw)
		}
		names = append(names, decoded)
	}
	return names, nil
}
