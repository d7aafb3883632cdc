package domain

import (
	"time"
)

// NaturalKey identifies a PatientRecord across re-imports.
type NaturalKey struct {
	SessionDate   time.Time
	PatientNumber string
	EntityName    string
}

// PatientRecord is one participant entry within a Session.
// Optional fields are nil when the source cell was blank.
type PatientRecord struct {
	ID              int64
	SessionID       int64
	SessionDate     time.Time
	PatientNumber   string
	EntityName      string
	Name            string
	BirthDate       *time.Time
	Age             *int
	Diagnosis       *string
	DiagnosisCode   *string
	DiagnosisFamily *string
	RTIndication    *RTIndication
	CallPriority    *CallPriority
	CasePriority    *int
	Remarks         *string
	StudyEnrolled   *bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key returns the record's natural key.
func (r *PatientRecord) Key() NaturalKey {
	return NaturalKey{
		SessionDate:   r.SessionDate,
		PatientNumber: r.PatientNumber,
		EntityName:    r.EntityName,
	}
}

// SameContent reports whether two records carry identical imported content.
// Identity and bookkeeping fields (ids, timestamps) are ignored.
func (r *PatientRecord) SameContent(o *PatientRecord) bool {
	return r.SessionDate.Equal(o.SessionDate) &&
		r.PatientNumber == o.PatientNumber &&
		r.EntityName == o.EntityName &&
		r.Name == o.Name &&
		equalTime(r.BirthDate, o.BirthDate) &&
		equalPtr(r.Age, o.Age) &&
		equalPtr(r.Diagnosis, o.Diagnosis) &&
		equalPtr(r.DiagnosisCode, o.DiagnosisCode) &&
		equalPtr(r.DiagnosisFamily, o.DiagnosisFamily) &&
		equalPtr(r.RTIndication, o.RTIndication) &&
		equalPtr(r.CallPriority, o.CallPriority) &&
		equalPtr(r.CasePriority, o.CasePriority) &&
		equalPtr(r.Remarks, o.Remarks) &&
		equalPtr(r.StudyEnrolled, o.StudyEnrolled)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
