package fileio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// OwnerFilePrefix marks the owner file spreadsheet applications create next
// to a workbook they hold open ("~$name.xlsx").
const OwnerFilePrefix = "~$"

// OwnerFile returns the owner-file path for path.
func OwnerFile(path string) string {
	return filepath.Join(filepath.Dir(path), OwnerFilePrefix+filepath.Base(path))
}

// Probe checks that path exists and can be written right now. It returns a
// *domain.FileError wrapping ErrNotFound, ErrPermissionDenied or ErrFileLocked.
//
// A file counts as locked when a spreadsheet owner file sits beside it or
// when another process holds an advisory lock on it.
func Probe(path string) error {
	if _, err := os.Stat(path); err != nil {
		return Classify("probe", path, err)
	}

	if _, err := os.Stat(OwnerFile(path)); err == nil {
		return Classify("probe", path, fmt.Errorf("owner file present: %w", domain.ErrFileLocked))
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return Classify("probe", path, err)
	}
	defer f.Close()

	if err := tryLock(f); err != nil {
		return Classify("probe", path, err)
	}
	return unlock(f)
}

// ProbeIfExists is Probe for destinations that may not exist yet.
func ProbeIfExists(path string) error {
	err := Probe(path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// Lock takes an exclusive advisory lock on path, creating the file when
// missing. The returned release function unlocks and closes it.
func Lock(path string) (release func() error, err error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, Classify("lock", path, err)
	}

	if err := tryLock(f); err != nil {
		_ = f.Close()
		return nil, Classify("lock", path, err)
	}

	return func() error {
		defer f.Close()
		return unlock(f)
	}, nil
}
