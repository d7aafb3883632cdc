// Package backup keeps timestamped copies of workbooks before they are
// modified, rotates old copies and optionally mirrors new ones off-site.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// timestampLayout sorts lexically in chronological order.
const timestampLayout = "20060102-150405.000000"

// Mirror receives a copy of every new backup.
type Mirror interface {
	Put(ctx context.Context, name, path string) error
}

// Manager writes backups into one directory.
type Manager struct {
	dir    string
	keep   int
	mirror Mirror
	log    *slog.Logger
	clock  func() time.Time
}

// NewManager creates a Manager. keep < 1 disables rotation; mirror may be nil.
func NewManager(dir string, keep int, mirror Mirror, log *slog.Logger) *Manager {
	return &Manager{
		dir:    dir,
		keep:   keep,
		mirror: mirror,
		log:    log.With("component", "backup"),
		clock:  time.Now,
	}
}

// Name returns the backup file name for category at t:
// <timestamp>_<category><ext>.
func Name(t time.Time, category, ext string) string {
	return t.UTC().Format(timestampLayout) + "_" + category + ext
}

// Backup copies path into the backup directory under a timestamped name and
// returns the backup path. A missing source has nothing to back up and
// returns "" without error. Older backups of the same category beyond the
// keep limit are removed.
func (m *Manager) Backup(ctx context.Context, path, category string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fileio.Classify("backup", path, err)
	}

	name := Name(m.clock(), category, filepath.Ext(path))
	dst := filepath.Join(m.dir, name)
	if err := fileio.CopyFile(path, dst); err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}

	m.log.InfoContext(ctx, "backup written",
		slog.String("category", category),
		slog.String("path", dst),
	)

	if m.mirror != nil {
		if err := m.mirror.Put(ctx, name, dst); err != nil {
			m.log.WarnContext(ctx, "backup mirror failed",
				slog.String("path", dst),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := m.rotate(ctx, category); err != nil {
		m.log.WarnContext(ctx, "backup rotation failed",
			slog.String("category", category),
			slog.String("error", err.Error()),
		)
	}
	return dst, nil
}

// List returns the backups of category, oldest first.
func (m *Manager) List(category string) ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fileio.Classify("list backups", m.dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() || !belongsTo(e.Name(), category) {
			continue
		}
		out = append(out, filepath.Join(m.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (m *Manager) rotate(ctx context.Context, category string) error {
	if m.keep < 1 {
		return nil
	}
	all, err := m.List(category)
	if err != nil {
		return err
	}
	if len(all) <= m.keep {
		return nil
	}
	for _, old := range all[:len(all)-m.keep] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return fileio.Classify("remove backup", old, err)
		}
		m.log.DebugContext(ctx, "backup removed", slog.String("path", old))
	}
	return nil
}

// belongsTo reports whether name is <timestamp>_<category>.<ext>.
func belongsTo(name, category string) bool {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if len(base) != len(timestampLayout)+1+len(category) {
		return false
	}
	if _, err := time.Parse(timestampLayout, base[:len(timestampLayout)]); err != nil {
		return false
	}
	return base[len(timestampLayout):] == "_"+category
}

// ErrNoBackup is returned by Latest when a category has no backups.
var ErrNoBackup = fmt.Errorf("backup: %w", domain.ErrNotFound)

// Latest returns the newest backup of category.
func (m *Manager) Latest(category string) (string, error) {
	all, err := m.List(category)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", ErrNoBackup
	}
	return all[len(all)-1], nil
}
