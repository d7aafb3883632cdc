// Package session implements the Session repository and its finalization
// history using SQLite.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Repo provides session persistence.
type Repo struct {
	db *sql.DB
}

// New creates a new session repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// ---------------------------------------------------------------------------
// SQL constants
// ---------------------------------------------------------------------------

const sessionColumns = `s.id, s.entity_id, e.name, s.session_date, s.finalized_at, s.finalized_by,
       s.last_edited_at, s.last_edited_by, s.last_synced_at, s.created_at`

const sessionFrom = `
FROM sessions s
JOIN entities e ON e.id = s.entity_id`

// upsertSQL only touches last_synced_at on an existing row.
const upsertSQL = `
INSERT INTO sessions (entity_id, session_date, last_synced_at, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (entity_id, session_date) DO UPDATE SET last_synced_at = excluded.last_synced_at`

const getByKeySQL = `
SELECT ` + sessionColumns + sessionFrom + `
WHERE e.name = ? AND s.session_date = ?`

const getByIDSQL = `
SELECT ` + sessionColumns + sessionFrom + `
WHERE s.id = ?`

const listByEntitySQL = `
SELECT ` + sessionColumns + sessionFrom + `
WHERE e.name = ?
ORDER BY s.session_date DESC`

const markFinalizedSQL = `
UPDATE sessions
SET finalized_at = ?, finalized_by = ?
WHERE id = ? AND finalized_at IS NULL`

const markEditedSQL = `
UPDATE sessions
SET last_edited_at = ?, last_edited_by = ?
WHERE id = ? AND finalized_at IS NOT NULL`

const insertEditSQL = `
INSERT INTO session_edits (id, session_id, kind, actor, at)
VALUES (?, ?, ?, ?, ?)`

const listEditsSQL = `
SELECT id, session_id, kind, actor, at
FROM session_edits
WHERE session_id = ?
ORDER BY at, rowid`

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// GetByKey returns a session by entity name and date.
// Returns domain.ErrNotFound if it does not exist.
func (r *Repo) GetByKey(ctx context.Context, key domain.SessionKey) (*domain.Session, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	s, err := scanSession(querier.QueryRowContext(ctx, getByKeySQL, key.Entity, sqlite.FormatDate(key.Date)))
	if err != nil {
		return nil, sqlite.MapError(err, "session", key)
	}
	return s, nil
}

// GetByID returns a session by primary key.
func (r *Repo) GetByID(ctx context.Context, id int64) (*domain.Session, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	s, err := scanSession(querier.QueryRowContext(ctx, getByIDSQL, id))
	if err != nil {
		return nil, sqlite.MapError(err, "session", id)
	}
	return s, nil
}

// ListByEntity returns an entity's sessions, newest first.
func (r *Repo) ListByEntity(ctx context.Context, entity string) ([]*domain.Session, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, listByEntitySQL, entity)
	if err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", entity, err)
	}
	defer rows.Close()

	sessions := []*domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions of %s: %w", entity, err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions of %s: %w", entity, err)
	}
	return sessions, nil
}

// ListEdits returns the finalization history of a session, oldest first.
func (r *Repo) ListEdits(ctx context.Context, sessionID int64) ([]domain.EditEvent, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, listEditsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list edits of session %d: %w", sessionID, err)
	}
	defer rows.Close()

	events := []domain.EditEvent{}
	for rows.Next() {
		var (
			ev    domain.EditEvent
			id    string
			kind  string
			atRaw string
		)
		if err := rows.Scan(&id, &ev.SessionID, &kind, &ev.Actor, &atRaw); err != nil {
			return nil, fmt.Errorf("list edits of session %d: %w", sessionID, err)
		}
		if ev.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("edit %s: %w", id, err)
		}
		if ev.At, err = sqlite.ParseTime(atRaw); err != nil {
			return nil, fmt.Errorf("edit %s: %w", id, err)
		}
		ev.Kind = domain.FinalizationKind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list edits of session %d: %w", sessionID, err)
	}
	return events, nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Upsert creates the session for (entityID, date) or, when it exists, only
// refreshes its last_synced_at. Finalization fields are never touched.
func (r *Repo) Upsert(ctx context.Context, entityID int64, key domain.SessionKey, syncedAt time.Time) (*domain.Session, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	ts := sqlite.FormatTime(syncedAt)
	if _, err := querier.ExecContext(ctx, upsertSQL, entityID, sqlite.FormatDate(key.Date), ts, ts); err != nil {
		return nil, sqlite.MapError(err, "session", key)
	}

	return r.GetByKey(ctx, key)
}

// MarkFinalized sets finalized_at/by. It succeeds only once per session;
// a second call returns domain.ErrConflict.
func (r *Repo) MarkFinalized(ctx context.Context, sessionID int64, actor string, at time.Time) error {
	return r.mark(ctx, markFinalizedSQL, sessionID, actor, at)
}

// MarkEdited sets last_edited_at/by on an already finalized session.
// Returns domain.ErrConflict if the session was never finalized.
func (r *Repo) MarkEdited(ctx context.Context, sessionID int64, actor string, at time.Time) error {
	return r.mark(ctx, markEditedSQL, sessionID, actor, at)
}

func (r *Repo) mark(ctx context.Context, query string, sessionID int64, actor string, at time.Time) error {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	res, err := querier.ExecContext(ctx, query, sqlite.FormatTime(at), actor, sessionID)
	if err != nil {
		return sqlite.MapError(err, "session", sessionID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session %d: rows affected: %w", sessionID, err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: finalization state changed: %w", sessionID, domain.ErrConflict)
	}
	return nil
}

// AddEdit appends an entry to the finalization history.
func (r *Repo) AddEdit(ctx context.Context, ev domain.EditEvent) error {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	_, err := querier.ExecContext(ctx, insertEditSQL,
		ev.ID.String(), ev.SessionID, string(ev.Kind), ev.Actor, sqlite.FormatTime(ev.At))
	if err != nil {
		return sqlite.MapError(err, "session edit", ev.ID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var (
		s            domain.Session
		date         string
		finalizedAt  sql.NullString
		finalizedBy  sql.NullString
		lastEditedAt sql.NullString
		lastEditedBy sql.NullString
		lastSyncedAt sql.NullString
		createdAt    string
	)

	if err := row.Scan(&s.ID, &s.EntityID, &s.EntityName, &date, &finalizedAt, &finalizedBy,
		&lastEditedAt, &lastEditedBy, &lastSyncedAt, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if s.Date, err = sqlite.ParseDate(date); err != nil {
		return nil, fmt.Errorf("session %d: %w", s.ID, err)
	}
	if s.FinalizedAt, err = sqlite.ParseNullTime(finalizedAt); err != nil {
		return nil, fmt.Errorf("session %d: %w", s.ID, err)
	}
	if s.LastEditedAt, err = sqlite.ParseNullTime(lastEditedAt); err != nil {
		return nil, fmt.Errorf("session %d: %w", s.ID, err)
	}
	if s.LastSyncedAt, err = sqlite.ParseNullTime(lastSyncedAt); err != nil {
		return nil, fmt.Errorf("session %d: %w", s.ID, err)
	}
	if s.CreatedAt, err = sqlite.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("session %d: %w", s.ID, err)
	}
	if finalizedBy.Valid {
		s.FinalizedBy = &finalizedBy.String
	}
	if lastEditedBy.Valid {
		s.LastEditedBy = &lastEditedBy.String
	}

	return &s, nil
}
