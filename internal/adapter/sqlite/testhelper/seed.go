package testhelper

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// SeedSession creates the entity (if needed) and the session for key and
// returns the session id.
func SeedSession(t *testing.T, db *sql.DB, key domain.SessionKey) int64 {
	t.Helper()
	ctx := context.Background()
	now := sqlite.FormatTime(time.Now())

	if _, err := db.ExecContext(ctx,
		`INSERT INTO entities (name, created_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		key.Entity, now,
	); err != nil {
		t.Fatalf("testhelper: SeedSession insert entity: %v", err)
	}

	var id int64
	err := db.QueryRowContext(ctx,
		`INSERT INTO sessions (entity_id, session_date, created_at)
		 SELECT id, ?, ? FROM entities WHERE name = ?
		 RETURNING id`,
		sqlite.FormatDate(key.Date), now, key.Entity,
	).Scan(&id)
	if err != nil {
		t.Fatalf("testhelper: SeedSession insert session: %v", err)
	}
	return id
}

// Record returns a minimal valid record of the given session.
func Record(sessionID int64, key domain.SessionKey, number, name string) *domain.PatientRecord {
	return &domain.PatientRecord{
		SessionID:     sessionID,
		SessionDate:   key.Date,
		PatientNumber: number,
		EntityName:    key.Entity,
		Name:          name,
	}
}
