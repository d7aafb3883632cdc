// Package session implements the Session Lifecycle Manager: a copy-on-write
// working snapshot per tumorboard date, crash restoration, completeness
// checks and finalization.
//
// State lives on disk so that every CLI invocation sees the same session:
//
//	NoSnapshot ──Open──▶ SnapshotActive ──Finalize──▶ NoSnapshot
//	                         │
//	                         └──Discard──▶ SnapshotActive (clean)
//
// A snapshot found by Open is a crash signal and must be resolved with
// Restore before work continues.
package session

import (
	"context"
	"log/slog"
	"os/user"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/metrics"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
	"github.com/heartmarshall/tumorboard/internal/service/router"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

type sessionRepo interface {
	GetByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
	MarkFinalized(ctx context.Context, sessionID int64, actor string, at time.Time) error
	MarkEdited(ctx context.Context, sessionID int64, actor string, at time.Time) error
	AddEdit(ctx context.Context, ev domain.EditEvent) error
	ListEdits(ctx context.Context, sessionID int64) ([]domain.EditEvent, error)
}

type workbookFiles interface {
	ReadTable(path, sheet string) (*workbook.Table, error)
	WriteTable(path string, t *workbook.Table) error
	ReplaceSheet(path string, t *workbook.Table) error
}

type syncer interface {
	SyncSession(ctx context.Context, key domain.SessionKey, table *workbook.Table) (*importer.Result, error)
}

type categoryRouter interface {
	RouteFinalizedSession(ctx context.Context, key domain.SessionKey) (*router.Result, error)
}

type backupWriter interface {
	Backup(ctx context.Context, path, category string) (string, error)
}

type retrier interface {
	Do(ctx context.Context, op string, fn func() error) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service manages editing sessions.
type Service struct {
	sessions    sessionRepo
	files       workbookFiles
	sync        syncer
	router      categoryRouter
	backups     backupWriter
	retry       retrier
	tx          txManager
	normalizer  *domain.Normalizer
	dateLayouts []string
	paths       config.PathsConfig
	cfg         config.SessionConfig
	metrics     *metrics.Metrics
	log         *slog.Logger
	clock       func() time.Time
}

// NewService creates a new session service.
func NewService(
	log *slog.Logger,
	cfg config.SessionConfig,
	paths config.PathsConfig,
	dateLayouts []string,
	sessions sessionRepo,
	files workbookFiles,
	sync syncer,
	router categoryRouter,
	backups backupWriter,
	retry retrier,
	tx txManager,
	m *metrics.Metrics,
) *Service {
	return &Service{
		sessions:    sessions,
		files:       files,
		sync:        sync,
		router:      router,
		backups:     backups,
		retry:       retry,
		tx:          tx,
		normalizer:  domain.NewNormalizer(dateLayouts),
		dateLayouts: dateLayouts,
		paths:       paths,
		cfg:         cfg,
		metrics:     m,
		log:         log.With("service", "session"),
		clock:       time.Now,
	}
}

// actor resolves who is acting: the context, then the configured default,
// then the OS login.
func (s *Service) actor(ctx context.Context) string {
	if a, ok := ctxutil.ActorFromCtx(ctx); ok {
		return a
	}
	if s.cfg.Actor != "" {
		return s.cfg.Actor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
