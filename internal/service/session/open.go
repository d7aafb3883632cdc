package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

// Open starts an editing session for key by copying its source workbook into
// a fresh working snapshot. A missing source is first created from the
// collection workbook's sheet of that date.
//
// If a snapshot is already on disk the session was not closed cleanly; Open
// then returns a *domain.RestoreRequiredError and changes nothing.
func (s *Service) Open(ctx context.Context, key domain.SessionKey) (*Status, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepOpen, err)
	}
	f := s.filesFor(key)

	if info, err := os.Stat(f.snapshot); err == nil {
		return nil, domain.NewStepError(domain.StepSnapshotRestore, &domain.RestoreRequiredError{
			Key:          key,
			SnapshotPath: f.snapshot,
			ModifiedAt:   info.ModTime(),
		})
	}

	err := s.withLock(ctx, f, func() error {
		if err := s.ensureSource(ctx, key, f); err != nil {
			return err
		}
		return s.createSnapshot(ctx, f)
	})
	if err != nil {
		return nil, s.fail(domain.StepOpen, err)
	}

	s.log.InfoContext(ctx, "session opened",
		slog.String("session", key.String()),
		slog.String("snapshot", f.snapshot),
	)
	return s.Status(ctx, key)
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore resolves a snapshot left behind by an earlier run. Continue keeps
// it and marks it as holding unsaved edits; discard deletes it and starts
// over from the source workbook.
func (s *Service) Restore(ctx context.Context, key domain.SessionKey, choice domain.RestoreChoice) (*Status, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepSnapshotRestore, err)
	}
	if !choice.IsValid() {
		return nil, domain.NewStepError(domain.StepSnapshotRestore,
			domain.NewValidationError("choice", fmt.Sprintf("must be %q or %q", domain.RestoreContinue, domain.RestoreDiscard)))
	}
	f := s.filesFor(key)

	ok, err := exists(f.snapshot)
	if err != nil {
		return nil, s.fail(domain.StepSnapshotRestore, fileio.Classify("stat", f.snapshot, err))
	}
	if !ok {
		return nil, s.fail(domain.StepSnapshotRestore, fmt.Errorf("session %s: %w", key, domain.ErrNoSnapshot))
	}

	err = s.withLock(ctx, f, func() error {
		switch choice {
		case domain.RestoreContinue:
			return s.markDirty(f)
		default:
			if err := s.removeSnapshot(f); err != nil {
				return err
			}
			if err := s.ensureSource(ctx, key, f); err != nil {
				return err
			}
			return s.createSnapshot(ctx, f)
		}
	})
	if err != nil {
		return nil, s.fail(domain.StepSnapshotRestore, err)
	}

	s.log.InfoContext(ctx, "snapshot restored",
		slog.String("session", key.String()),
		slog.String("choice", choice.String()),
	)
	return s.Status(ctx, key)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// ensureSource creates the session source from the collection workbook when
// it does not exist yet.
func (s *Service) ensureSource(ctx context.Context, key domain.SessionKey, f sessionFiles) error {
	ok, err := exists(f.source)
	if err != nil {
		return fileio.Classify("stat", f.source, err)
	}
	if ok {
		return nil
	}

	collection := s.paths.CollectionPath(key.Entity)
	table, err := s.files.ReadTable(collection, key.SheetName())
	if err != nil {
		return fmt.Errorf("materialize source from %s: %w", collection, err)
	}
	if err := s.files.WriteTable(f.source, table.Clone(key.SheetName())); err != nil {
		return fmt.Errorf("materialize source: %w", err)
	}

	s.log.InfoContext(ctx, "session source created from collection",
		slog.String("session", key.String()),
		slog.String("source", f.source),
		slog.Int("rows", len(table.Rows)),
	)
	return nil
}

// createSnapshot copies the source into a clean snapshot. Reading the source
// retries while another program holds it.
func (s *Service) createSnapshot(ctx context.Context, f sessionFiles) error {
	if err := s.retry.Do(ctx, "snapshot", func() error {
		return fileio.CopyFile(f.source, f.snapshot)
	}); err != nil {
		return err
	}
	return s.clearDirty(f)
}

func (s *Service) removeSnapshot(f sessionFiles) error {
	for _, p := range []string{f.snapshot, f.unsaved} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fileio.Classify("remove", p, err)
		}
	}
	return nil
}

func (s *Service) markDirty(f sessionFiles) error {
	stamp := []byte(s.clock().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(f.unsaved, stamp, 0o644); err != nil {
		return fileio.Classify("mark unsaved", f.unsaved, err)
	}
	return nil
}

func (s *Service) clearDirty(f sessionFiles) error {
	if err := os.Remove(f.unsaved); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileio.Classify("clear unsaved", f.unsaved, err)
	}
	return nil
}

// withLock runs fn while holding the session's advisory lock. Taking the
// lock is retried while another process holds it.
func (s *Service) withLock(ctx context.Context, f sessionFiles, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(f.lock), 0o755); err != nil {
		return fileio.Classify("mkdir", filepath.Dir(f.lock), err)
	}

	var release func() error
	if err := s.retry.Do(ctx, "session lock", func() error {
		var err error
		release, err = fileio.Lock(f.lock)
		return err
	}); err != nil {
		return err
	}
	defer func() { _ = release() }()

	return fn()
}

// fail wraps err with step and counts the failure.
func (s *Service) fail(step domain.Step, err error) error {
	err = domain.NewStepError(step, err)
	s.metrics.StepFailures.WithLabelValues(domain.StepOf(err).String()).Inc()
	return err
}
