// Package importer implements the Import/Sync Engine: it reads collection
// workbooks and idempotently upserts their sessions and patient records.
package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/metrics"
)

type entityRepo interface {
	GetOrCreate(ctx context.Context, name string, now time.Time) (*domain.Entity, error)
}

type sessionRepo interface {
	Upsert(ctx context.Context, entityID int64, key domain.SessionKey, syncedAt time.Time) (*domain.Session, error)
}

type patientRepo interface {
	Upsert(ctx context.Context, rec *domain.PatientRecord, now time.Time) (bool, error)
	DeleteMissing(ctx context.Context, sessionID int64, keep []string) (int64, error)
}

type collectionReader interface {
	ReadDateTables(path string, layouts []string) ([]workbook.DatedTable, []string, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service imports collection workbooks and re-syncs single sessions.
type Service struct {
	entities   entityRepo
	sessions   sessionRepo
	patients   patientRepo
	reader     collectionReader
	tx         txManager
	normalizer *domain.Normalizer
	paths      config.PathsConfig
	cfg        config.ImportConfig
	metrics    *metrics.Metrics
	log        *slog.Logger
	clock      func() time.Time
}

// NewService creates a new importer service.
func NewService(
	log *slog.Logger,
	cfg config.ImportConfig,
	paths config.PathsConfig,
	entities entityRepo,
	sessions sessionRepo,
	patients patientRepo,
	reader collectionReader,
	tx txManager,
	m *metrics.Metrics,
) *Service {
	return &Service{
		entities:   entities,
		sessions:   sessions,
		patients:   patients,
		reader:     reader,
		tx:         tx,
		normalizer: domain.NewNormalizer(cfg.DateLayouts),
		paths:      paths,
		cfg:        cfg,
		metrics:    m,
		log:        log.With("service", "importer"),
		clock:      time.Now,
	}
}

// Result summarizes one import or sync.
type Result struct {
	Entity string
	// Sessions is the number of sessions upserted.
	Sessions int
	// Records is the number of records written (new or changed).
	Records int
	// Unchanged counts records whose stored content already matched.
	Unchanged int
	// Skipped counts rows that could not be imported.
	Skipped int
	// Pruned counts stored records removed because they left the sheet.
	Pruned int
	// SkippedSheets lists sheets that are not sessions or lack required columns.
	SkippedSheets []string
}

func (r *Result) add(o *Result) {
	r.Sessions += o.Sessions
	r.Records += o.Records
	r.Unchanged += o.Unchanged
	r.Skipped += o.Skipped
	r.Pruned += o.Pruned
	r.SkippedSheets = append(r.SkippedSheets, o.SkippedSheets...)
}
