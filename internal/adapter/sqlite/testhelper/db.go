// Package testhelper provides a migrated throwaway SQLite store and seed
// helpers for repository and service tests.
package testhelper

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/config"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupTestDB creates a fresh database file in a per-test temp dir, applies
// all schema steps and returns the handle. The handle is closed via t.Cleanup.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "tumorboard.db"),
		BusyTimeout: 5 * time.Second,
	}

	db, err := sqlite.Open(ctx, cfg, DiscardLogger())
	if err != nil {
		t.Fatalf("testhelper: open test DB: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
