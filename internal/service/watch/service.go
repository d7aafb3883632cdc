// Package watch re-imports collection workbooks when they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
)

const collectionSuffix = "_collection.xlsx"

type collectionImporter interface {
	ImportCollection(ctx context.Context, entity, path string) (*importer.Result, error)
}

// Service watches the data root for collection changes.
type Service struct {
	importer collectionImporter
	cfg      config.WatchConfig
	paths    config.PathsConfig
	log      *slog.Logger

	// ready, when set, is called once all watches are in place.
	ready func()
}

// NewService creates a new watch service.
func NewService(log *slog.Logger, cfg config.WatchConfig, paths config.PathsConfig, imp collectionImporter) *Service {
	return &Service{
		importer: imp,
		cfg:      cfg,
		paths:    paths,
		log:      log.With("service", "watch"),
	}
}

// CollectionEntity returns the entity a collection workbook path belongs to:
// <data_root>/<entity>/<entity>_collection.xlsx. Owner and temporary files
// next to it do not count.
func CollectionEntity(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, fileio.OwnerFilePrefix) || strings.HasPrefix(base, ".") {
		return "", false
	}
	entity := filepath.Base(filepath.Dir(path))
	if base != entity+collectionSuffix {
		return "", false
	}
	return entity, true
}

// Run watches until ctx is done. Every collection write starts a debounce
// window; the import runs once the file has been quiet for the whole window.
// Import failures are logged and do not stop the watcher.
func (s *Service) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := os.MkdirAll(s.paths.DataRoot, 0o755); err != nil {
		return fileio.Classify("mkdir", s.paths.DataRoot, err)
	}
	if err := w.Add(s.paths.DataRoot); err != nil {
		return fmt.Errorf("watch %s: %w", s.paths.DataRoot, err)
	}
	entries, err := os.ReadDir(s.paths.DataRoot)
	if err != nil {
		return fileio.Classify("read dir", s.paths.DataRoot, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			s.addDir(w, filepath.Join(s.paths.DataRoot, e.Name()))
		}
	}

	s.log.InfoContext(ctx, "watching collections",
		slog.String("root", s.paths.DataRoot),
		slog.Duration("debounce", s.cfg.Debounce),
	)
	if s.ready != nil {
		s.ready()
	}

	due := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(s.paths.DataRoot) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					s.addDir(w, ev.Name)
					continue
				}
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if _, ok := CollectionEntity(ev.Name); !ok {
				continue
			}
			path := ev.Name
			if t, ok := timers[path]; ok {
				t.Reset(s.cfg.Debounce)
				continue
			}
			timers[path] = time.AfterFunc(s.cfg.Debounce, func() {
				select {
				case due <- path:
				case <-ctx.Done():
				}
			})

		case path := <-due:
			delete(timers, path)
			s.reimport(ctx, path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.WarnContext(ctx, "watcher error", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) addDir(w *fsnotify.Watcher, dir string) {
	if err := w.Add(dir); err != nil {
		s.log.Warn("cannot watch directory", slog.String("dir", dir), slog.String("error", err.Error()))
	}
}

func (s *Service) reimport(ctx context.Context, path string) {
	entity, _ := CollectionEntity(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		s.log.DebugContext(ctx, "collection gone before import", slog.String("path", path))
		return
	}

	res, err := s.importer.ImportCollection(ctx, entity, path)
	if err != nil {
		s.log.ErrorContext(ctx, "re-import failed",
			slog.String("entity", entity),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	s.log.InfoContext(ctx, "collection re-imported",
		slog.String("entity", entity),
		slog.Int("sessions", res.Sessions),
		slog.Int("records", res.Records),
		slog.Int("skipped", res.Skipped),
	)
}
