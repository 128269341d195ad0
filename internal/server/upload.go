package server

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/climsite/tile-engine/internal/catalog"
	"github.com/climsite/tile-engine/internal/metrics"
	"github.com/climsite/tile-engine/internal/rastercodec"
	"github.com/climsite/tile-engine/internal/tilecache"
	"github.com/climsite/tile-engine/internal/vectorimport"
)

const maxUploadBytes = 2 << 30

// formError wraps a field message the way the map client renders it.
func formError(msg string) string {
	return fmt.Sprintf(`<span class="field-error">%s</span>`, html.EscapeString(msg))
}

func formResponse(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": false,
		"form":    map[string]string{field: formError(msg)},
	})
}

// handleUpload stores the multipart "file" part under the upload directory
// and hands back the stored name for a later publish call.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		formResponse(w, "file", "no file provided")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		formResponse(w, "file", "invalid file name")
		return
	}

	if err := os.MkdirAll(s.cfg.Raster.UploadDir, 0o755); err != nil {
		s.fail(w, r, err, "create upload dir")
		return
	}

	stored := fmt.Sprintf("%s_%s", uuid.New(), name)
	dest := filepath.Join(s.cfg.Raster.UploadDir, stored)
	out, err := os.Create(dest)
	if err != nil {
		s.fail(w, r, err, "create upload file")
		return
	}
	written, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		s.fail(w, r, err, "write upload file")
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	s.log.Info("stored upload",
		zap.String("file", stored), zap.Int64("bytes", written))
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"form":    map[string]string{"file": stored},
	})
}

// handlePublish converts a previously uploaded file and records it against
// (layer, time). Raster uploads go through the codec, vector uploads through
// the import pipeline; the file's extension decides which.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "unreadable form")
		return
	}

	layerID, err := uuid.Parse(r.FormValue("layer"))
	if err != nil {
		formResponse(w, "layer", "invalid layer")
		return
	}
	t, err := time.Parse(time.RFC3339, r.FormValue("time"))
	if err != nil {
		formResponse(w, "time", "invalid time, expected RFC 3339")
		return
	}

	stored := filepath.Base(r.FormValue("file"))
	if stored == "" || stored == "." {
		formResponse(w, "file", "missing uploaded file reference")
		return
	}
	path := filepath.Join(s.cfg.Raster.UploadDir, stored)
	if _, err := os.Stat(path); err != nil {
		formResponse(w, "file", "uploaded file not found")
		return
	}

	layer, err := s.store.GetLayer(r.Context(), layerID)
	if err != nil {
		if eris.Is(err, catalog.ErrNotFound) {
			formResponse(w, "layer", "layer not found")
			return
		}
		s.fail(w, r, err, "get layer")
		return
	}

	switch strings.ToLower(filepath.Ext(stored)) {
	case ".zip", ".geojson", ".json", ".gpkg":
		s.publishVector(w, r, layer, path, t)
	case ".tif", ".tiff", ".nc":
		s.publishRaster(w, r, layer, path, t)
	default:
		formResponse(w, "file", "unsupported file type")
	}
}

func (s *Server) publishRaster(w http.ResponseWriter, r *http.Request, layer *catalog.Layer, path string, t time.Time) {
	ctx := r.Context()

	// Converting is expensive, so reject duplicate times before touching
	// the file.
	if _, err := s.store.RasterFileAt(ctx, layer.ID, t); err == nil {
		formResponse(w, "time", "a raster is already published at this time")
		return
	} else if !eris.Is(err, catalog.ErrNotFound) {
		s.fail(w, r, err, "check raster duplicate")
		return
	}

	timeIndex := -1
	if raw := r.FormValue("time_index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			formResponse(w, "time_index", "invalid band index")
			return
		}
		timeIndex = idx
	}

	out := filepath.Join(s.cfg.Raster.DataDir,
		fmt.Sprintf("%s_%s.tif", layer.ID, t.UTC().Format("20060102T150405Z")))
	err := s.codec.Convert(ctx, rastercodec.ConvertOptions{
		Input:        path,
		Output:       out,
		DataVariable: r.FormValue("data_variable"),
		TimeIndex:    timeIndex,
	})
	if err != nil {
		s.log.Error("raster conversion failed", zap.String("input", path), zap.Error(err))
		formResponse(w, "file", "conversion failed: "+eris.Cause(err).Error())
		return
	}

	rf := &catalog.RasterFile{
		LayerID:      layer.ID,
		Time:         t,
		Path:         out,
		DataVariable: r.FormValue("data_variable"),
	}
	if err := s.store.PublishRasterFile(ctx, rf); err != nil {
		os.Remove(out)
		if eris.Is(err, catalog.ErrDuplicateTime) {
			formResponse(w, "time", "a raster is already published at this time")
			return
		}
		s.fail(w, r, err, "publish raster file")
		return
	}

	s.log.Info("published raster",
		zap.String("layer", layer.ID.String()),
		zap.Time("time", t),
		zap.String("path", out))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) publishVector(w http.ResponseWriter, r *http.Request, layer *catalog.Layer, path string, t time.Time) {
	table := r.FormValue("table_name")
	if table == "" {
		formResponse(w, "table_name", "missing table name")
		return
	}

	vt, err := s.importer.Import(r.Context(), vectorimport.ImportOptions{
		Path:      path,
		TableName: table,
		LayerID:   layer.ID,
		Time:      t,
	})
	if err != nil {
		switch {
		case eris.Is(err, catalog.ErrDuplicateTime):
			formResponse(w, "time", "this table is already published at this time")
		case eris.Is(err, vectorimport.ErrNoSHP),
			eris.Is(err, vectorimport.ErrNoSHX),
			eris.Is(err, vectorimport.ErrNoDBF),
			eris.Is(err, vectorimport.ErrInvalidFile):
			formResponse(w, "file", eris.Cause(err).Error())
		default:
			s.log.Error("vector import failed", zap.String("table", table), zap.Error(err))
			formResponse(w, "file", "import failed: "+eris.Cause(err).Error())
		}
		return
	}

	if s.cache != nil {
		s.cache.Invalidate(r.Context(), tilecache.Prefix("vector", vt.TableName))
	}
	s.log.Info("published vector table",
		zap.String("layer", layer.ID.String()),
		zap.Time("time", t),
		zap.String("table", vt.TableName))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
