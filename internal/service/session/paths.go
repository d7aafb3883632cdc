package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Per-session files live in the entity's sessions directory, named after
// the session date (DD_MM_YYYY):
//
//	<date>.xlsx                  source of truth
//	<date>_temp_session.xlsx     working snapshot; its presence is the crash signal
//	<date>_temp_session.unsaved  marker: the snapshot holds unsaved edits
//	<date>_temp_session.lock     advisory lock held during mutations
//	<date>_finalization.log      append-only finalization record
const (
	snapshotSuffix = "_temp_session"
	xlsxExt        = ".xlsx"
	unsavedExt     = ".unsaved"
	lockExt        = ".lock"
	logSuffix      = "_finalization.log"
)

type sessionFiles struct {
	source   string
	snapshot string
	unsaved  string
	lock     string
	log      string
}

func (s *Service) filesFor(key domain.SessionKey) sessionFiles {
	dir := s.paths.SessionsDir(key.Entity)
	base := filepath.Join(dir, key.SheetName())
	return sessionFiles{
		source:   base + xlsxExt,
		snapshot: base + snapshotSuffix + xlsxExt,
		unsaved:  base + snapshotSuffix + unsavedExt,
		lock:     base + snapshotSuffix + lockExt,
		log:      base + logSuffix,
	}
}

// SnapshotPath returns where the working snapshot of key lives.
func (s *Service) SnapshotPath(key domain.SessionKey) string {
	return s.filesFor(key).snapshot
}

// SourcePath returns where the source workbook of key lives.
func (s *Service) SourcePath(key domain.SessionKey) string {
	return s.filesFor(key).source
}

// snapshotDate parses a snapshot file name back into its session date.
func snapshotDate(name string) (time.Time, bool) {
	if !strings.HasSuffix(name, snapshotSuffix+xlsxExt) {
		return time.Time{}, false
	}
	return domain.ParseSheetDate(strings.TrimSuffix(name, snapshotSuffix+xlsxExt), domain.SheetDateLayout)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
