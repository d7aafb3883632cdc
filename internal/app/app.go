package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tumorboard/internal/adapter/backup"
	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite/entity"
	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite/patient"
	reportrepo "github.com/heartmarshall/tumorboard/internal/adapter/sqlite/report"
	sessionrepo "github.com/heartmarshall/tumorboard/internal/adapter/sqlite/session"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/metrics"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
	"github.com/heartmarshall/tumorboard/internal/service/report"
	"github.com/heartmarshall/tumorboard/internal/service/router"
	"github.com/heartmarshall/tumorboard/internal/service/session"
	"github.com/heartmarshall/tumorboard/internal/service/watch"
)

// Engine holds every component of one process, built from config.
type Engine struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics

	Importer *importer.Service
	Sessions *session.Service
	Router   *router.Service
	Reports  *report.Service
	Watcher  *watch.Service

	db *sql.DB
}

// NewEngine opens the store (applying pending migrations) and wires the
// services. Close must be called when done.
func NewEngine(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Engine, error) {
	db, err := sqlite.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	mirror, err := backup.NewMirror(ctx, cfg.Backup, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("backup mirror: %w", err)
	}

	m := metrics.New()

	// Repositories
	entities := entity.New(db)
	sessions := sessionrepo.New(db)
	patients := patient.New(db)
	reports := reportrepo.New(db)
	tx := sqlite.NewTxManager(db)

	// File layer
	files := workbook.Files{}
	backups := backup.NewManager(cfg.Paths.BackupDir, cfg.Backup.Keep, mirror, log)
	retry := fileio.NewRetrier(fileio.RetryPolicy{
		Retries: cfg.Session.LockRetries,
		Initial: cfg.Session.LockBackoffInitial,
		Max:     cfg.Session.LockBackoffMax,
	}, log, func(op string) { m.LockRetries.WithLabelValues(op).Inc() })

	// Services
	importSvc := importer.NewService(log, cfg.Import, cfg.Paths, entities, sessions, patients, files, tx, m)
	routerSvc := router.NewService(log, cfg.Router, cfg.Paths, sessions, patients, files, backups, retry, m)
	sessionSvc := session.NewService(log, cfg.Session, cfg.Paths, cfg.Import.DateLayouts,
		sessions, files, importSvc, routerSvc, backups, retry, tx, m)
	reportSvc := report.NewService(log, reports, patients, files)
	watchSvc := watch.NewService(log, cfg.Watch, cfg.Paths, importSvc)

	return &Engine{
		Config:   cfg,
		Log:      log,
		Metrics:  m,
		Importer: importSvc,
		Sessions: sessionSvc,
		Router:   routerSvc,
		Reports:  reportSvc,
		Watcher:  watchSvc,
		db:       db,
	}, nil
}

// Ping checks that the store answers.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Close writes the metrics textfile when configured and closes the store.
func (e *Engine) Close() error {
	var errs []error
	if path := e.Config.Metrics.Textfile; path != "" {
		if err := e.Metrics.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
