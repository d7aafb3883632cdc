// Package sqlite holds the embedded relational store: connection setup,
// schema migrations, transactions and error mapping shared by the
// repositories in its subpackages.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Open opens (creating if needed) the SQLite database at cfg.Path, applies
// all pending schema migrations and returns the ready handle.
//
// The pool is limited to a single connection: SQLite allows one writer and
// the engine is single-process, so every statement, including those run
// through TxManager, shares that connection.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := OpenNoMigrate(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, domain.NewStepError(domain.StepMigrate, err)
	}

	return db, nil
}

// OpenNoMigrate opens the database without touching the schema.
func OpenNoMigrate(ctx context.Context, cfg config.StoreConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

func dsn(cfg config.StoreConfig) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_txlock", "immediate")
	return "file:" + cfg.Path + "?" + q.Encode()
}
