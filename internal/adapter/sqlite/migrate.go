package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Schema steps are Go migrations so that each one can inspect the current
// schema before acting. A database created by an older build (tables present,
// goose history missing) converges to the same schema as a fresh one.
// Every step runs in its own transaction and is recorded by goose, so it runs
// at most once; re-running a step by hand is harmless. There are no down steps.
func migrations() []*goose.Migration {
	steps := []func(ctx context.Context, tx *sql.Tx) error{
		createBaseTables,
		addSessionLastSynced,
		addDiagnosisFamily,
		canonicalBirthDates,
		addCasePriority,
		dropAgeInput,
		createSessionEdits,
	}

	out := make([]*goose.Migration, 0, len(steps))
	for i, step := range steps {
		out = append(out, goose.NewGoMigration(int64(i+1), &goose.GoFunc{RunTx: step}, nil))
	}
	return out
}

// NewMigrationProvider returns a goose provider over the engine's schema steps.
func NewMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, nil,
		goose.WithGoMigrations(migrations()...),
		goose.WithDisableGlobalRegistry(true),
	)
	if err != nil {
		return nil, fmt.Errorf("goose new provider: %w", err)
	}
	return provider, nil
}

// Migrate applies all pending schema steps and returns how many ran.
// A failing step is rolled back and stops the run; earlier steps stay applied.
func Migrate(ctx context.Context, db *sql.DB, log *slog.Logger) (int, error) {
	provider, err := NewMigrationProvider(db)
	if err != nil {
		return 0, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return len(results), fmt.Errorf("goose up: %w", err)
	}

	for _, r := range results {
		log.InfoContext(ctx, "schema step applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}

	return len(results), nil
}

// StepStatus reports whether one schema step has been applied.
type StepStatus struct {
	Version   int64
	Applied   bool
	AppliedAt time.Time
}

// Status lists every schema step with its applied state.
func Status(ctx context.Context, db *sql.DB) ([]StepStatus, error) {
	provider, err := NewMigrationProvider(db)
	if err != nil {
		return nil, err
	}

	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}

	out := make([]StepStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, StepStatus{
			Version:   s.Source.Version,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Schema steps
// ---------------------------------------------------------------------------

// createBaseTables creates the original three tables. birth_date is still in
// the legacy DD.MM.YYYY layout and age is kept next to the raw age_input
// column that early exports carried.
func createBaseTables(ctx context.Context, tx *sql.Tx) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS entities (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT    NOT NULL UNIQUE CHECK (name <> ''),
    created_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id      INTEGER NOT NULL REFERENCES entities (id),
    session_date   TEXT    NOT NULL,
    finalized_at   TEXT,
    finalized_by   TEXT,
    last_edited_at TEXT,
    last_edited_by TEXT,
    created_at     TEXT    NOT NULL,
    UNIQUE (entity_id, session_date)
);

CREATE TABLE IF NOT EXISTS patient_records (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id     INTEGER NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    session_date   TEXT    NOT NULL,
    patient_number TEXT    NOT NULL CHECK (patient_number <> ''),
    entity_name    TEXT    NOT NULL,
    name           TEXT    NOT NULL,
    birth_date     TEXT,
    age            INTEGER,
    age_input      TEXT,
    diagnosis      TEXT,
    icd_code       TEXT,
    rt_indication  TEXT,
    call_priority  TEXT,
    remarks        TEXT,
    study_enrolled INTEGER,
    created_at     TEXT    NOT NULL,
    updated_at     TEXT    NOT NULL,
    UNIQUE (session_date, patient_number, entity_name)
);

CREATE INDEX IF NOT EXISTS idx_patient_records_session ON patient_records (session_id);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create base tables: %w", err)
	}
	return nil
}

func addSessionLastSynced(ctx context.Context, tx *sql.Tx) error {
	return addColumn(ctx, tx, "sessions", "last_synced_at", "TEXT")
}

// addDiagnosisFamily adds icd_family and backfills it from icd_code.
func addDiagnosisFamily(ctx context.Context, tx *sql.Tx) error {
	if err := addColumn(ctx, tx, "patient_records", "icd_family", "TEXT"); err != nil {
		return err
	}

	codes, err := selectPairs(ctx, tx,
		`SELECT id, icd_code FROM patient_records WHERE icd_code IS NOT NULL AND icd_family IS NULL`)
	if err != nil {
		return fmt.Errorf("backfill icd_family: %w", err)
	}

	for id, code := range codes {
		family := domain.DiagnosisFamily(code)
		if family == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE patient_records SET icd_family = ? WHERE id = ?`, *family, id); err != nil {
			return fmt.Errorf("backfill icd_family %d: %w", id, err)
		}
	}
	return nil
}

// canonicalBirthDates rewrites legacy DD.MM.YYYY birth dates as YYYY-MM-DD.
// Values in neither layout are left untouched.
func canonicalBirthDates(ctx context.Context, tx *sql.Tx) error {
	dates, err := selectPairs(ctx, tx,
		`SELECT id, birth_date FROM patient_records WHERE birth_date LIKE '__.__.____'`)
	if err != nil {
		return fmt.Errorf("convert birth_date: %w", err)
	}

	for id, raw := range dates {
		birth, ok := domain.ParseDate(raw, "02.01.2006")
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE patient_records SET birth_date = ? WHERE id = ?`, FormatDate(birth), id); err != nil {
			return fmt.Errorf("convert birth_date %d: %w", id, err)
		}
	}
	return nil
}

func addCasePriority(ctx context.Context, tx *sql.Tx) error {
	return addColumn(ctx, tx, "patient_records", "case_priority", "INTEGER")
}

// dropAgeInput removes the raw age column; age is always derived on import.
func dropAgeInput(ctx context.Context, tx *sql.Tx) error {
	exists, err := columnExists(ctx, tx, "patient_records", "age_input")
	if err != nil || !exists {
		return err
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE patient_records DROP COLUMN age_input`); err != nil {
		return fmt.Errorf("drop patient_records.age_input: %w", err)
	}
	return nil
}

func createSessionEdits(ctx context.Context, tx *sql.Tx) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_edits (
    id         TEXT    PRIMARY KEY,
    session_id INTEGER NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    kind       TEXT    NOT NULL CHECK (kind IN ('FINALIZED', 'EDITED')),
    actor      TEXT    NOT NULL,
    at         TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_edits_session ON session_edits (session_id, at);
`
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create session_edits: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Introspection helpers
// ---------------------------------------------------------------------------

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return false, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("table_info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func addColumn(ctx context.Context, tx *sql.Tx, table, column, def string) error {
	exists, err := columnExists(ctx, tx, table, column)
	if err != nil || exists {
		return err
	}
	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, def)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

// selectPairs reads (id, text) rows fully before the caller issues updates.
func selectPairs(ctx context.Context, tx *sql.Tx, query string) (map[int64]string, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id  int64
			val string
		)
		if err := rows.Scan(&id, &val); err != nil {
			return nil, err
		}
		out[id] = val
	}
	return out, rows.Err()
}
