package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// RecordView is one snapshot record as shown while editing.
type RecordView struct {
	// Line is the 1-based row in the snapshot sheet.
	Line     int
	Record   *domain.PatientRecord
	Status   domain.RecordStatus
	Missing  []domain.Column
	Warnings []string
}

// Blocking reports whether the record keeps the session from being finalized.
func (v RecordView) Blocking() bool {
	return v.Status != domain.RecordStatusCompleted
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Records returns every usable row of the working snapshot with its
// completeness marker. Rows without patient number or name are left out.
func (s *Service) Records(ctx context.Context, key domain.SessionKey) ([]RecordView, error) {
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepEdit, err)
	}
	f := s.filesFor(key)
	if err := requireSnapshot(key, f); err != nil {
		return nil, domain.NewStepError(domain.StepEdit, err)
	}

	table, err := s.files.ReadTable(f.snapshot, "")
	if err != nil {
		return nil, domain.NewStepError(domain.StepEdit, err)
	}
	return s.views(ctx, key, table)
}

func (s *Service) views(ctx context.Context, key domain.SessionKey, table *workbook.Table) ([]RecordView, error) {
	idx, missing := table.Resolve()
	if len(missing) > 0 {
		return nil, domain.NewValidationError("header", fmt.Sprintf("sheet %s lacks columns %v", table.Sheet, missing))
	}

	rows := table.RawRows(idx)
	out := make([]RecordView, 0, len(rows))
	for _, row := range rows {
		rec, warnings, err := s.normalizer.Normalize(row, key)
		if err != nil {
			s.log.DebugContext(ctx, "snapshot row without identity ignored",
				slog.String("session", key.String()),
				slog.Int("line", row.Line),
			)
			continue
		}
		out = append(out, view(row.Line, rec, warnings))
	}
	return out, nil
}

func view(line int, rec *domain.PatientRecord, warnings []string) RecordView {
	return RecordView{
		Line:     line,
		Record:   rec,
		Status:   domain.EvaluateStatus(rec),
		Missing:  domain.MissingFields(rec),
		Warnings: warnings,
	}
}

// ---------------------------------------------------------------------------
// UpdateField
// ---------------------------------------------------------------------------

// UpdateField sets one cell of a patient's row in the working snapshot. The
// source workbook and the store are untouched until Finalize. The patient
// number identifies the row and cannot be edited.
func (s *Service) UpdateField(ctx context.Context, key domain.SessionKey, patientNumber string, col domain.Column, value string) (*RecordView, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepEdit, err)
	}
	value = strings.TrimSpace(value)
	if err := validateEdit(col, value, s.dateLayouts); err != nil {
		return nil, domain.NewStepError(domain.StepEdit, err)
	}
	f := s.filesFor(key)
	if err := requireSnapshot(key, f); err != nil {
		return nil, s.fail(domain.StepEdit, err)
	}

	var updated *RecordView
	err := s.withLock(ctx, f, func() error {
		table, err := s.files.ReadTable(f.snapshot, "")
		if err != nil {
			return err
		}
		idx, missing := table.Resolve()
		if len(missing) > 0 {
			return domain.NewValidationError("header", fmt.Sprintf("snapshot lacks columns %v", missing))
		}

		row := table.FindRow(idx, patientNumber)
		if row < 0 {
			return fmt.Errorf("patient %s in session %s: %w", patientNumber, key, domain.ErrNotFound)
		}
		idx = table.Set(idx, row, col, value)

		if err := s.writeSnapshot(f, table); err != nil {
			return err
		}
		if err := s.markDirty(f); err != nil {
			return err
		}

		rec, warnings, err := s.normalizer.Normalize(domain.RowFromCells(row+2, table.Rows[row], idx), key)
		if err != nil {
			return err
		}
		v := view(row+2, rec, warnings)
		updated = &v
		return nil
	})
	if err != nil {
		return nil, s.fail(domain.StepEdit, err)
	}

	s.log.InfoContext(ctx, "field updated",
		slog.String("session", key.String()),
		slog.String("patient", patientNumber),
		slog.String("column", string(col)),
		slog.String("status", updated.Status.String()),
	)
	return updated, nil
}

// validateEdit rejects edits the normalizer would drop.
func validateEdit(col domain.Column, value string, layouts []string) error {
	if !slices.Contains(domain.Columns, col) {
		return domain.NewValidationError("column", fmt.Sprintf("unknown column %q", col))
	}

	switch col {
	case domain.ColPatientNumber:
		return domain.NewValidationError(string(col), "identifies the row and cannot be edited")
	case domain.ColName:
		if _, ok := domain.CleanCell(value); !ok {
			return domain.NewValidationError(string(col), "required")
		}
	case domain.ColBirthDate:
		if raw, ok := domain.CleanCell(value); ok {
			if _, ok := domain.ParseDate(raw, layouts...); !ok {
				return domain.NewValidationError(string(col), fmt.Sprintf("unparseable date %q", value))
			}
		}
	case domain.ColCasePriority:
		if _, ok := domain.ParseCasePriority(value); !ok {
			return domain.NewValidationError(string(col), fmt.Sprintf("not a non-negative number: %q", value))
		}
	case domain.ColStudy:
		if _, ok := domain.ParseBool(value); !ok {
			return domain.NewValidationError(string(col), fmt.Sprintf("not a yes/no value: %q", value))
		}
	}
	return nil
}

// writeSnapshot replaces the snapshot's sheet through a temporary copy so a
// crash never leaves a half-written snapshot behind.
func (s *Service) writeSnapshot(f sessionFiles, table *workbook.Table) error {
	dir := filepath.Dir(f.snapshot)
	tmp := filepath.Join(dir, "."+uuid.NewString()+"_"+filepath.Base(f.snapshot))

	if err := fileio.CopyFile(f.snapshot, tmp); err != nil {
		return err
	}
	if err := s.files.ReplaceSheet(tmp, table); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, f.snapshot); err != nil {
		_ = os.Remove(tmp)
		return fileio.Classify("rename", f.snapshot, err)
	}
	return nil
}

func requireSnapshot(key domain.SessionKey, f sessionFiles) error {
	ok, err := exists(f.snapshot)
	if err != nil {
		return fileio.Classify("stat", f.snapshot, err)
	}
	if !ok {
		return fmt.Errorf("session %s: %w", key, domain.ErrNoSnapshot)
	}
	return nil
}
