// Package router implements the Category Router: after a session is
// finalized it appends every record with a radiotherapy indication to the
// ledger of its call-priority category.
package router

import (
	"context"
	"log/slog"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/metrics"
)

type sessionRepo interface {
	GetByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
}

type patientRepo interface {
	ListIndicated(ctx context.Context, sessionID int64) ([]*domain.PatientRecord, error)
}

type ledgerFiles interface {
	LedgerKeys(path string) (map[string]bool, error)
	InsertLedgerRows(path, annotationHeader string, rows []workbook.LedgerRow) error
}

type backupWriter interface {
	Backup(ctx context.Context, path, category string) (string, error)
}

type retrier interface {
	Do(ctx context.Context, op string, fn func() error) error
}

// Service routes finalized sessions into category ledgers.
type Service struct {
	sessions sessionRepo
	patients patientRepo
	ledgers  ledgerFiles
	backups  backupWriter
	retry    retrier
	cfg      config.RouterConfig
	paths    config.PathsConfig
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewService creates a new router service.
func NewService(
	log *slog.Logger,
	cfg config.RouterConfig,
	paths config.PathsConfig,
	sessions sessionRepo,
	patients patientRepo,
	ledgers ledgerFiles,
	backups backupWriter,
	retry retrier,
	m *metrics.Metrics,
) *Service {
	return &Service{
		sessions: sessions,
		patients: patients,
		ledgers:  ledgers,
		backups:  backups,
		retry:    retry,
		cfg:      cfg,
		paths:    paths,
		metrics:  m,
		log:      log.With("service", "router"),
	}
}

// Result summarizes one routing run.
type Result struct {
	Key domain.SessionKey
	// Routed counts rows inserted per category.
	Routed map[domain.CallPriority]int
	// AlreadyPresent counts records a ledger held from an earlier run.
	AlreadyPresent int
	// Unrouted lists patient numbers whose call priority maps to no category.
	Unrouted []string
	// Reassigned lists records already routed under another category.
	Reassigned []Reassignment
}

// Reassignment is a record whose call priority changed after it was routed.
type Reassignment struct {
	PatientNumber string
	From          domain.CallPriority
	To            domain.CallPriority
}

// Total returns the number of rows inserted into all ledgers.
func (r *Result) Total() int {
	n := 0
	for _, c := range r.Routed {
		n += c
	}
	return n
}
