// Package report implements the Query/Reporting service: read-only
// statistics over the store and exports of patient records.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

type reportRepo interface {
	Totals(ctx context.Context, f domain.ReportFilter) (sessions, records int, err error)
	CountsByEntity(ctx context.Context, f domain.ReportFilter) ([]domain.Count, error)
	CountsByPeriod(ctx context.Context, f domain.ReportFilter, p domain.Period) ([]domain.Count, error)
	CountsBy(ctx context.Context, f domain.ReportFilter, b domain.Breakdown) ([]domain.Count, error)
}

type patientRepo interface {
	List(ctx context.Context, f domain.ReportFilter) ([]*domain.PatientRecord, error)
}

type tableWriter interface {
	WriteTableTo(w io.Writer, t *workbook.Table) error
}

// Service answers reporting queries. It never writes to the store.
type Service struct {
	reports  reportRepo
	patients patientRepo
	tables   tableWriter
	log      *slog.Logger
}

// NewService creates a new report service.
func NewService(log *slog.Logger, reports reportRepo, patients patientRepo, tables tableWriter) *Service {
	return &Service{
		reports:  reports,
		patients: patients,
		tables:   tables,
		log:      log.With("service", "report"),
	}
}

// ---------------------------------------------------------------------------
// Overview
// ---------------------------------------------------------------------------

// Overview collects the standard statistics for f. The aggregates run
// concurrently; an empty store yields zero totals and empty breakdowns.
func (s *Service) Overview(ctx context.Context, f domain.ReportFilter) (*domain.Overview, error) {
	if err := f.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}

	ov := &domain.Overview{Filter: f}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		ov.TotalSessions, ov.TotalRecords, err = s.reports.Totals(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		ov.ByEntity, err = s.reports.CountsByEntity(gctx, f)
		return err
	})
	g.Go(func() error {
		var err error
		ov.ByMonth, err = s.reports.CountsByPeriod(gctx, f, domain.PeriodMonth)
		return err
	})

	breakdowns := []struct {
		b   domain.Breakdown
		dst *[]domain.Count
	}{
		{domain.BreakdownCallPriority, &ov.ByCallPriority},
		{domain.BreakdownRTIndication, &ov.ByRTIndication},
		{domain.BreakdownDiagnosisFamily, &ov.ByFamily},
		{domain.BreakdownStudy, &ov.ByStudy},
	}
	for _, bd := range breakdowns {
		g.Go(func() error {
			counts, err := s.reports.CountsBy(gctx, f, bd.b)
			if err != nil {
				return fmt.Errorf("breakdown %s: %w", bd.b, err)
			}
			*bd.dst = counts
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}
	return ov, nil
}

// ---------------------------------------------------------------------------
// Breakdown
// ---------------------------------------------------------------------------

// Dimension names accepted by Breakdown besides the categorical ones.
const (
	DimensionEntity = "entity"
)

// Breakdown groups the records matching f by one dimension: "entity", a
// period ("month", "quarter", "year") or a categorical breakdown.
func (s *Service) Breakdown(ctx context.Context, f domain.ReportFilter, dimension string) ([]domain.Count, error) {
	if err := f.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}

	var (
		counts []domain.Count
		err    error
	)
	switch p := domain.Period(dimension); {
	case dimension == DimensionEntity:
		counts, err = s.reports.CountsByEntity(ctx, f)
	case p.IsValid():
		counts, err = s.reports.CountsByPeriod(ctx, f, p)
	default:
		b, perr := domain.ParseBreakdown(dimension)
		if perr != nil {
			return nil, domain.NewStepError(domain.StepReport, perr)
		}
		counts, err = s.reports.CountsBy(ctx, f, b)
	}
	if err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}
	return counts, nil
}

// Records returns the records matching f.
func (s *Service) Records(ctx context.Context, f domain.ReportFilter) ([]*domain.PatientRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}
	records, err := s.patients.List(ctx, f)
	if err != nil {
		return nil, domain.NewStepError(domain.StepReport, err)
	}
	return records, nil
}
