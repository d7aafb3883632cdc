// Package entity implements the Entity repository using SQLite.
package entity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Repo provides entity persistence. Entities are never deleted.
type Repo struct {
	db *sql.DB
}

// New creates a new entity repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// ---------------------------------------------------------------------------
// SQL constants
// ---------------------------------------------------------------------------

const entityColumns = `id, name, created_at`

const insertIgnoreSQL = `
INSERT INTO entities (name, created_at)
VALUES (?, ?)
ON CONFLICT (name) DO NOTHING`

const getByNameSQL = `
SELECT ` + entityColumns + `
FROM entities
WHERE name = ?`

const listSQL = `
SELECT ` + entityColumns + `
FROM entities
ORDER BY name`

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// GetOrCreate returns the entity with the given name, creating it on first
// reference.
func (r *Repo) GetOrCreate(ctx context.Context, name string, now time.Time) (*domain.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidationError("entity", "name is required")
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)

	if _, err := querier.ExecContext(ctx, insertIgnoreSQL, name, sqlite.FormatTime(now)); err != nil {
		return nil, sqlite.MapError(err, "entity", name)
	}

	return r.GetByName(ctx, name)
}

// GetByName returns an entity by its unique name.
// Returns domain.ErrNotFound if it does not exist.
func (r *Repo) GetByName(ctx context.Context, name string) (*domain.Entity, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	e, err := scanEntity(querier.QueryRowContext(ctx, getByNameSQL, name))
	if err != nil {
		return nil, sqlite.MapError(err, "entity", name)
	}
	return e, nil
}

// List returns all entities ordered by name.
func (r *Repo) List(ctx context.Context) ([]*domain.Entity, error) {
	querier := sqlite.QuerierFromCtx(ctx, r.db)

	rows, err := querier.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	entities := []*domain.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return entities, nil
}

// ---------------------------------------------------------------------------
// Row scanning helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*domain.Entity, error) {
	var (
		e         domain.Entity
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Name, &createdAt); err != nil {
		return nil, err
	}

	t, err := sqlite.ParseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", e.Name, err)
	}
	e.CreatedAt = t

	return &e, nil
}
