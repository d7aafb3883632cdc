package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")

	// File-level failures. The file layer always wraps exactly one of
	// ErrFileLocked, ErrPermissionDenied or ErrNotFound so callers can tell
	// the operator what to do.
	ErrFileLocked       = errors.New("file is locked by another process")
	ErrPermissionDenied = errors.New("permission denied")

	ErrSnapshotExists    = errors.New("working snapshot already exists")
	ErrNoSnapshot        = errors.New("no working snapshot")
	ErrIncompleteSession = errors.New("session has incomplete records")
)

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}

// Step names the engine operation a user-visible failure belongs to.
type Step string

const (
	StepMigrate         Step = "migrate"
	StepImport          Step = "import"
	StepOpen            Step = "open"
	StepSnapshotRestore Step = "snapshot-restore"
	StepEdit            Step = "edit"
	StepFinalize        Step = "finalize"
	StepRoute           Step = "route"
	StepReport          Step = "report"
)

func (s Step) String() string { return string(s) }

// StepError attributes a failure to the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// NewStepError wraps err with the given step. A nil err stays nil and an
// error that already carries a step is returned unchanged.
func NewStepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Err: err}
}

// StepOf returns the step recorded on err, or "" when there is none.
func StepOf(err error) Step {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// FileError describes a failed file operation.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// RestoreRequiredError is returned when a session is opened while a working
// snapshot from an earlier run is still on disk. The caller must choose
// between continuing with it and discarding it.
type RestoreRequiredError struct {
	Key          SessionKey
	SnapshotPath string
	ModifiedAt   time.Time
}

func (e *RestoreRequiredError) Error() string {
	return fmt.Sprintf("session %s: snapshot %s from %s must be continued or discarded",
		e.Key, e.SnapshotPath, e.ModifiedAt.Format(time.RFC3339))
}

func (e *RestoreRequiredError) Unwrap() error { return ErrSnapshotExists }
