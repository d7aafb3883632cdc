package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SheetDateLayout is the layout of a session sheet name and of the date part
// of every per-session file name (e.g. "01_06_2024").
const SheetDateLayout = "02_01_2006"

// Entity is a tumorboard type. Its name is immutable and unique.
type Entity struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// SessionKey identifies one calendar occurrence of an entity.
type SessionKey struct {
	Entity string
	Date   time.Time
}

// NewSessionKey builds a key with the date truncated to a calendar day in UTC.
func NewSessionKey(entity string, date time.Time) SessionKey {
	return SessionKey{Entity: strings.TrimSpace(entity), Date: DateOnly(date)}
}

// SheetName returns the DD_MM_YYYY name used for the session's sheet and files.
func (k SessionKey) SheetName() string { return k.Date.Format(SheetDateLayout) }

func (k SessionKey) String() string {
	return fmt.Sprintf("%s@%s", k.Entity, k.Date.Format(time.DateOnly))
}

// Validate checks that the key names an entity and a date.
func (k SessionKey) Validate() error {
	var errs []FieldError
	if k.Entity == "" {
		errs = append(errs, FieldError{Field: "entity", Message: "required"})
	}
	if k.Date.IsZero() {
		errs = append(errs, FieldError{Field: "date", Message: "required"})
	}
	if len(errs) > 0 {
		return NewValidationErrors(errs)
	}
	return nil
}

// Session is one calendar occurrence of an Entity.
//
// FinalizedAt/FinalizedBy are written once, on the first finalization.
// LastEditedAt/LastEditedBy track every later finalization.
type Session struct {
	ID           int64
	EntityID     int64
	EntityName   string
	Date         time.Time
	FinalizedAt  *time.Time
	FinalizedBy  *string
	LastEditedAt *time.Time
	LastEditedBy *string
	LastSyncedAt *time.Time
	CreatedAt    time.Time
}

// Key returns the session's natural key.
func (s *Session) Key() SessionKey {
	return SessionKey{Entity: s.EntityName, Date: s.Date}
}

// IsFinalized returns true once the session has been finalized at least once.
func (s *Session) IsFinalized() bool {
	return s.FinalizedAt != nil
}

// FinalizationKind distinguishes the first finalization of a session from
// every later edit.
type FinalizationKind string

const (
	FinalizationFirst FinalizationKind = "FINALIZED"
	FinalizationEdit  FinalizationKind = "EDITED"
)

func (k FinalizationKind) String() string { return string(k) }

// EditEvent is one entry of a session's finalization history.
type EditEvent struct {
	ID        uuid.UUID
	SessionID int64
	Kind      FinalizationKind
	Actor     string
	At        time.Time
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
