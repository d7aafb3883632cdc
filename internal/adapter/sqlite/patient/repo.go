// Package patient implements the PatientRecord repository using SQLite.
// Records are addressed by their natural key (session date, patient number,
// entity name); the integer id is internal to the store.
package patient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Repo provides patient record persistence.
type Repo struct {
	db *sql.DB
}

// New creates a new patient record repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// ---------------------------------------------------------------------------
// SQL constants
// ---------------------------------------------------------------------------

const table = "patient_records"

var recordColumns = []string{
	"id", "session_id", "session_date", "patient_number", "entity_name", "name",
	"birth_date", "age", "diagnosis", "icd_code", "icd_family", "rt_indication",
	"call_priority", "case_priority", "remarks", "study_enrolled", "created_at", "updated_at",
}

var insertColumns = recordColumns[1:]

// upsertSuffix replaces every content column of an existing row. The WHERE
// clause skips rows whose content is identical so that their updated_at is
// left alone.
const upsertSuffix = `
ON CONFLICT (session_date, patient_number, entity_name) DO UPDATE SET
    session_id     = excluded.session_id,
    name           = excluded.name,
    birth_date     = excluded.birth_date,
    age            = excluded.age,
    diagnosis      = excluded.diagnosis,
    icd_code       = excluded.icd_code,
    icd_family     = excluded.icd_family,
    rt_indication  = excluded.rt_indication,
    call_priority  = excluded.call_priority,
    case_priority  = excluded.case_priority,
    remarks        = excluded.remarks,
    study_enrolled = excluded.study_enrolled,
    updated_at     = excluded.updated_at
WHERE patient_records.session_id     IS NOT excluded.session_id
   OR patient_records.name           IS NOT excluded.name
   OR patient_records.birth_date     IS NOT excluded.birth_date
   OR patient_records.age            IS NOT excluded.age
   OR patient_records.diagnosis      IS NOT excluded.diagnosis
   OR patient_records.icd_code       IS NOT excluded.icd_code
   OR patient_records.icd_family     IS NOT excluded.icd_family
   OR patient_records.rt_indication  IS NOT excluded.rt_indication
   OR patient_records.call_priority  IS NOT excluded.call_priority
   OR patient_records.case_priority  IS NOT excluded.case_priority
   OR patient_records.remarks        IS NOT excluded.remarks
   OR patient_records.study_enrolled IS NOT excluded.study_enrolled`

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Upsert inserts rec or fully replaces the row with the same natural key.
// It reports whether a row was written; an unchanged row is left untouched.
func (r *Repo) Upsert(ctx context.Context, rec *domain.PatientRecord, now time.Time) (bool, error) {
	ts := sqlite.FormatTime(now)

	query := sqlite.Builder().
		Insert(table).
		Columns(insertColumns...).
		Values(
			rec.SessionID,
			sqlite.FormatDate(rec.SessionDate),
			rec.PatientNumber,
			rec.EntityName,
			rec.Name,
			sqlite.NullDate(rec.BirthDate),
			nullInt(rec.Age),
			nullString(rec.Diagnosis),
			nullString(rec.DiagnosisCode),
			nullString(rec.DiagnosisFamily),
			nullString((*string)(rec.RTIndication)),
			nullString((*string)(rec.CallPriority)),
			nullInt(rec.CasePriority),
			nullString(rec.Remarks),
			nullBool(rec.StudyEnrolled),
			ts,
			ts,
		).
		Suffix(upsertSuffix)

	stmt, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build upsert: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	res, err := querier.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, sqlite.MapError(err, "patient record", rec.Key())
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("patient record %v: rows affected: %w", rec.Key(), err)
	}
	return n > 0, nil
}

// DeleteMissing removes the records of a session whose patient number is not
// in keep. It returns the number of deleted rows.
func (r *Repo) DeleteMissing(ctx context.Context, sessionID int64, keep []string) (int64, error) {
	query := sqlite.Builder().
		Delete(table).
		Where(sq.Eq{"session_id": sessionID}).
		Where(sq.NotEq{"patient_number": keep})

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	res, err := querier.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, sqlite.MapError(err, "session", sessionID)
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// GetByKey returns a record by natural key.
// Returns domain.ErrNotFound if it does not exist.
func (r *Repo) GetByKey(ctx context.Context, key domain.NaturalKey) (*domain.PatientRecord, error) {
	query := sqlite.Builder().
		Select(recordColumns...).
		From(table).
		Where(sq.Eq{
			"session_date":   sqlite.FormatDate(key.SessionDate),
			"patient_number": key.PatientNumber,
			"entity_name":    key.EntityName,
		})

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	rec, err := scanRecord(querier.QueryRowContext(ctx, stmt, args...))
	if err != nil {
		return nil, sqlite.MapError(err, "patient record", key)
	}
	return rec, nil
}

// ListBySession returns a session's records in case-priority order, then by
// patient number.
func (r *Repo) ListBySession(ctx context.Context, sessionID int64) ([]*domain.PatientRecord, error) {
	query := sqlite.Builder().
		Select(recordColumns...).
		From(table).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("case_priority IS NULL", "case_priority", "patient_number")

	return r.list(ctx, query)
}

// ListIndicated returns the records of a session with radiotherapy
// indication "yes".
func (r *Repo) ListIndicated(ctx context.Context, sessionID int64) ([]*domain.PatientRecord, error) {
	query := sqlite.Builder().
		Select(recordColumns...).
		From(table).
		Where(sq.Eq{"session_id": sessionID, "rt_indication": string(domain.RTIndicationYes)}).
		OrderBy("case_priority IS NULL", "case_priority", "patient_number")

	return r.list(ctx, query)
}

// List returns the records matching f ordered by date, entity and case
// priority.
func (r *Repo) List(ctx context.Context, f domain.ReportFilter) ([]*domain.PatientRecord, error) {
	query := sqlite.Builder().
		Select(recordColumns...).
		From(table).
		OrderBy("session_date", "entity_name", "case_priority IS NULL", "case_priority", "patient_number")

	query = sqlite.WhereIf(query, f.Entity != "", sq.Eq{"entity_name": f.Entity})
	if f.From != nil {
		query = query.Where(sq.GtOrEq{"session_date": sqlite.FormatDate(*f.From)})
	}
	if f.To != nil {
		query = query.Where(sq.LtOrEq{"session_date": sqlite.FormatDate(*f.To)})
	}

	return r.list(ctx, query)
}

func (r *Repo) list(ctx context.Context, query sq.SelectBuilder) ([]*domain.PatientRecord, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	rows, err := querier.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	defer rows.Close()

	records := []*domain.PatientRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list patient records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	return records, nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.PatientRecord, error) {
	var (
		rec           domain.PatientRecord
		sessionDate   string
		birthDate     sql.NullString
		age           sql.NullInt64
		diagnosis     sql.NullString
		icdCode       sql.NullString
		icdFamily     sql.NullString
		rtIndication  sql.NullString
		callPriority  sql.NullString
		casePriority  sql.NullInt64
		remarks       sql.NullString
		studyEnrolled sql.NullBool
		createdAt     string
		updatedAt     string
	)

	if err := row.Scan(
		&rec.ID, &rec.SessionID, &sessionDate, &rec.PatientNumber, &rec.EntityName, &rec.Name,
		&birthDate, &age, &diagnosis, &icdCode, &icdFamily, &rtIndication,
		&callPriority, &casePriority, &remarks, &studyEnrolled, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.SessionDate, err = sqlite.ParseDate(sessionDate); err != nil {
		return nil, fmt.Errorf("patient record %d: %w", rec.ID, err)
	}
	if rec.BirthDate, err = sqlite.ParseNullDate(birthDate); err != nil {
		return nil, fmt.Errorf("patient record %d: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = sqlite.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("patient record %d: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = sqlite.ParseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("patient record %d: %w", rec.ID, err)
	}

	rec.Age = intPtr(age)
	rec.Diagnosis = stringPtr(diagnosis)
	rec.DiagnosisCode = stringPtr(icdCode)
	rec.DiagnosisFamily = stringPtr(icdFamily)
	if rtIndication.Valid {
		v := domain.RTIndication(rtIndication.String)
		rec.RTIndication = &v
	}
	if callPriority.Valid {
		v := domain.CallPriority(callPriority.String)
		rec.CallPriority = &v
	}
	rec.CasePriority = intPtr(casePriority)
	rec.Remarks = stringPtr(remarks)
	if studyEnrolled.Valid {
		rec.StudyEnrolled = &studyEnrolled.Bool
	}

	return &rec, nil
}

// ---------------------------------------------------------------------------
// Null helpers
// ---------------------------------------------------------------------------

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
