// Package fileio implements the file-level primitives the engine relies on:
// lock detection, copy-then-verify atomic replace and bounded retry of
// operations that hit a locked file.
package fileio

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Classify wraps err into a *domain.FileError. Not-exist, permission and
// lock failures map onto their domain sentinels; anything else is kept as is.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var fe *domain.FileError
	if errors.As(err, &fe) {
		return err
	}

	return &domain.FileError{Op: op, Path: path, Err: classify(err)}
}

func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrFileLocked),
		errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrNotFound):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrPermissionDenied
	case isLockError(err):
		return fmt.Errorf("%w: %w", domain.ErrFileLocked, err)
	}
	return err
}

// IsLocked reports whether err is a lock failure worth retrying.
func IsLocked(err error) bool {
	return errors.Is(err, domain.ErrFileLocked)
}
