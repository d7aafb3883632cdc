package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// MapError converts database/sql and SQLite driver errors to domain errors.
// context.DeadlineExceeded and context.Canceled are NOT mapped; they pass through.
// key identifies the row in the message (an id, a natural key or a name).
func MapError(err error, entity string, key any) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %v: %w", entity, key, err)
	}

	// sql.ErrNoRows → domain.ErrNotFound
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", entity, key, domain.ErrNotFound)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s %v: %w", entity, key, domain.ErrAlreadyExists)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s %v: %w", entity, key, domain.ErrNotFound)
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return fmt.Errorf("%s %v: %w", entity, key, domain.ErrValidation)
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s %v: %w: %v", entity, key, domain.ErrConflict, err)
		}
	}

	// Everything else: wrap with context
	return fmt.Errorf("%s %v: %w", entity, key, err)
}
