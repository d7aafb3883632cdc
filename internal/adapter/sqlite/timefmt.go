package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Timestamps are stored as RFC 3339 text in UTC and dates as YYYY-MM-DD so
// that lexical order equals chronological order and strftime works on them.

// FormatTime formats a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatDate formats a calendar date for storage.
func FormatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

// NullTime formats an optional timestamp; nil is stored as NULL.
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// NullDate formats an optional date; nil is stored as NULL.
func NullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatDate(*t), Valid: true}
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// ParseDate parses a stored date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored date %q: %w", s, err)
	}
	return t, nil
}

// ParseNullTime parses an optional stored timestamp.
func ParseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseNullDate parses an optional stored date.
func ParseNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
