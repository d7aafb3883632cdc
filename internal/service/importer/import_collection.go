package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// ImportCollection
// ---------------------------------------------------------------------------

// ImportCollection imports every date-named sheet of the workbook at path as
// a session of entity. Problems with single rows are logged and counted, not
// returned; only store and file failures abort the import.
//
// Running it twice on the same workbook leaves the store unchanged.
func (s *Service) ImportCollection(ctx context.Context, entity, path string) (*Result, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	entity = strings.TrimSpace(entity)
	if entity == "" {
		return nil, domain.NewStepError(domain.StepImport, domain.NewValidationError("entity", "required"))
	}

	tables, skipped, err := s.reader.ReadDateTables(path, nil)
	if err != nil {
		return nil, domain.NewStepError(domain.StepImport, err)
	}

	for _, name := range skipped {
		s.log.DebugContext(ctx, "sheet is not a session, skipped",
			slog.String("entity", entity),
			slog.String("sheet", name),
		)
	}

	result := &Result{Entity: entity, SkippedSheets: skipped}
	for _, t := range tables {
		key := domain.NewSessionKey(entity, t.Date)
		r, err := s.syncTable(ctx, key, t.Table)
		if err != nil {
			return nil, domain.NewStepError(domain.StepImport, fmt.Errorf("sheet %s: %w", t.Sheet, err))
		}
		result.add(r)
	}

	s.log.InfoContext(ctx, "collection imported",
		slog.String("entity", entity),
		slog.String("path", path),
		slog.Int("sessions", result.Sessions),
		slog.Int("records", result.Records),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("skipped", result.Skipped),
		slog.Int("pruned", result.Pruned),
	)
	return result, nil
}

// ImportAll imports the collection workbook of every entity directory under
// the data root, at most cfg.WorkbookWorkers at a time. Entities without a
// collection workbook are ignored.
func (s *Service) ImportAll(ctx context.Context) ([]*Result, error) {
	ctx = ctxutil.EnsureOperationID(ctx)

	entries, err := os.ReadDir(s.paths.DataRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.NewStepError(domain.StepImport, fmt.Errorf("read data root: %w", err))
	}

	var entities []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.paths.CollectionPath(e.Name())); err == nil {
			entities = append(entities, e.Name())
		}
	}

	results := make([]*Result, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.WorkbookWorkers))

	for i, entity := range entities {
		g.Go(func() error {
			r, err := s.ImportCollection(gctx, entity, s.paths.CollectionPath(entity))
			if err != nil {
				return fmt.Errorf("entity %s: %w", entity, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ---------------------------------------------------------------------------
// SyncSession
// ---------------------------------------------------------------------------

// SyncSession re-imports one session from an already loaded sheet. It shares
// the upsert path with ImportCollection and is used after finalization.
func (s *Service) SyncSession(ctx context.Context, key domain.SessionKey, table *workbook.Table) (*Result, error) {
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepImport, err)
	}
	r, err := s.syncTable(ctx, key, table)
	if err != nil {
		return nil, domain.NewStepError(domain.StepImport, err)
	}
	return r, nil
}

// syncTable upserts one session and all its rows in a single transaction.
func (s *Service) syncTable(ctx context.Context, key domain.SessionKey, table *workbook.Table) (*Result, error) {
	result := &Result{Entity: key.Entity}

	idx, missing := table.Resolve()
	if len(missing) > 0 {
		s.log.WarnContext(ctx, "sheet lacks required columns, skipped",
			slog.String("session", key.String()),
			slog.Any("missing", missing),
		)
		result.SkippedSheets = append(result.SkippedSheets, table.Sheet)
		result.Skipped += len(table.Rows)
		s.metrics.RowsSkipped.WithLabelValues(key.Entity, "missing_columns").Add(float64(len(table.Rows)))
		return result, nil
	}

	records := s.normalizeRows(ctx, key, table.RawRows(idx), result)

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		now := s.clock().UTC()

		entity, err := s.entities.GetOrCreate(txCtx, key.Entity, now)
		if err != nil {
			return fmt.Errorf("entity %s: %w", key.Entity, err)
		}

		session, err := s.sessions.Upsert(txCtx, entity.ID, key, now)
		if err != nil {
			return fmt.Errorf("session %s: %w", key, err)
		}

		keep := make([]string, 0, len(records))
		for _, rec := range records {
			rec.SessionID = session.ID
			changed, err := s.patients.Upsert(txCtx, rec, now)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.PatientNumber, err)
			}
			if changed {
				result.Records++
			} else {
				result.Unchanged++
			}
			keep = append(keep, rec.PatientNumber)
		}

		if s.cfg.PruneMissing {
			n, err := s.patients.DeleteMissing(txCtx, session.ID, keep)
			if err != nil {
				return fmt.Errorf("prune session %s: %w", key, err)
			}
			result.Pruned = int(n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Sessions = 1
	s.metrics.SessionsImported.WithLabelValues(key.Entity).Inc()
	s.metrics.RecordsImported.WithLabelValues(key.Entity).Add(float64(result.Records))
	if result.Pruned > 0 {
		s.metrics.RecordsPruned.WithLabelValues(key.Entity).Add(float64(result.Pruned))
	}
	return result, nil
}

// normalizeRows converts rows into records, dropping rows that cannot be
// imported. A patient number seen twice keeps its last row.
func (s *Service) normalizeRows(ctx context.Context, key domain.SessionKey, rows []domain.RawRow, result *Result) []*domain.PatientRecord {
	records := make([]*domain.PatientRecord, 0, len(rows))
	pos := make(map[string]int, len(rows))

	for _, row := range rows {
		rec, warnings, err := s.normalizer.Normalize(row, key)
		if err != nil {
			result.Skipped++
			s.metrics.RowsSkipped.WithLabelValues(key.Entity, skipReason(err)).Inc()
			s.log.WarnContext(ctx, "row skipped",
				slog.String("session", key.String()),
				slog.Int("row", row.Line),
				slog.String("reason", err.Error()),
			)
			continue
		}

		for _, w := range warnings {
			s.log.WarnContext(ctx, "row imported with warning",
				slog.String("session", key.String()),
				slog.Int("row", row.Line),
				slog.String("patient_number", rec.PatientNumber),
				slog.String("warning", w),
			)
		}

		if i, dup := pos[rec.PatientNumber]; dup {
			s.log.WarnContext(ctx, "duplicate patient number, last row wins",
				slog.String("session", key.String()),
				slog.Int("row", row.Line),
				slog.String("patient_number", rec.PatientNumber),
			)
			records[i] = rec
			continue
		}
		pos[rec.PatientNumber] = len(records)
		records = append(records, rec)
	}
	return records
}

func skipReason(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) && len(ve.Errors) > 0 {
		switch domain.Column(ve.Errors[0].Field) {
		case domain.ColPatientNumber:
			return "missing_number"
		case domain.ColName:
			return "missing_name"
		}
	}
	return "invalid"
}
