package basemap

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// sourcePattern restricts archive and style names taken from request paths.
var sourcePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Service resolves source names to open archives under a directory.
// Archives are opened on first use and kept open.
type Service struct {
	dir      string
	styleDir string

	mu       sync.Mutex
	archives map[string]*Archive
}

// NewService creates a Service over dir (MBTiles files) and styleDir
// (GL style templates).
func NewService(dir, styleDir string) *Service {
	return &Service{
		dir:      dir,
		styleDir: styleDir,
		archives: make(map[string]*Archive),
	}
}

// Archive returns the open archive for source, opening <dir>/<source>.mbtiles
// on first access.
func (s *Service) Archive(source string) (*Archive, error) {
	if !sourcePattern.MatchString(source) {
		return nil, eris.Wrapf(ErrArchiveNotFound, "%s", source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.archives[source]; ok {
		return a, nil
	}

	a, err := OpenArchive(filepath.Join(s.dir, source+".mbtiles"))
	if err != nil {
		return nil, err
	}

	zap.L().Info("opened basemap archive",
		zap.String("source", source),
		zap.String("format", a.Descriptor().Format),
		zap.Int("maxzoom", a.Descriptor().MaxZoom))

	s.archives[source] = a
	return a, nil
}

// Style reads a GL style template and points its vector sources at the
// service's tile-json endpoint for the template's named source.
func (s *Service) Style(name, tileJSONURL string) ([]byte, error) {
	if !sourcePattern.MatchString(name) {
		return nil, eris.Wrapf(ErrArchiveNotFound, "style %s", name)
	}

	template, err := os.ReadFile(filepath.Join(s.styleDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrArchiveNotFound, "style %s", name)
		}
		return nil, eris.Wrapf(err, "basemap: read style %s", name)
	}

	return ComposeStyle(template, tileJSONURL)
}

// Close closes all open archives.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for source, a := range s.archives {
		if err := a.Close(); err != nil {
			zap.L().Warn("closing basemap archive", zap.String("source", source), zap.Error(err))
		}
	}
	s.archives = make(map[string]*Archive)
}
