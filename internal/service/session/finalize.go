package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
	"github.com/heartmarshall/tumorboard/internal/service/router"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// FinalizeResult summarizes a successful finalization.
type FinalizeResult struct {
	Key   domain.SessionKey
	Kind  domain.FinalizationKind
	Actor string
	At    time.Time
	Sync  *importer.Result
	Route *router.Result
}

// ---------------------------------------------------------------------------
// Finalize
// ---------------------------------------------------------------------------

// Finalize makes the working snapshot the new source of truth for key.
//
// Steps run in this order and stop at the first failure:
//
//  1. every snapshot record must be completed
//  2. the source workbook is replaced by the snapshot (verified copy,
//     retried while the source is locked)
//  3. the collection sheet of the date is backed up and rewritten
//  4. the store is re-synced from the snapshot
//  5. indicated records are routed into the category ledgers
//  6. the finalization is recorded in the store and the session log
//  7. the snapshot is deleted
//
// On failure the snapshot stays on disk and no finalization timestamp is
// written, so Finalize can simply be run again. Steps 2 to 5 are idempotent.
func (s *Service) Finalize(ctx context.Context, key domain.SessionKey) (*FinalizeResult, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepFinalize, err)
	}
	f := s.filesFor(key)
	if err := requireSnapshot(key, f); err != nil {
		return nil, s.fail(domain.StepFinalize, err)
	}

	var result *FinalizeResult
	err := s.withLock(ctx, f, func() error {
		var err error
		result, err = s.finalize(ctx, key, f)
		return err
	})
	if err != nil {
		s.log.ErrorContext(ctx, "finalization failed, snapshot kept",
			slog.String("session", key.String()),
			slog.String("snapshot", f.snapshot),
			slog.String("error", err.Error()),
		)
		return nil, s.fail(domain.StepFinalize, err)
	}

	s.metrics.Finalizations.WithLabelValues(key.Entity, result.Kind.String()).Inc()
	s.log.InfoContext(ctx, "session finalized",
		slog.String("session", key.String()),
		slog.String("kind", result.Kind.String()),
		slog.String("actor", result.Actor),
	)
	return result, nil
}

func (s *Service) finalize(ctx context.Context, key domain.SessionKey, f sessionFiles) (*FinalizeResult, error) {
	table, err := s.files.ReadTable(f.snapshot, "")
	if err != nil {
		return nil, err
	}
	if err := s.checkComplete(ctx, key, table); err != nil {
		return nil, err
	}

	if err := s.retry.Do(ctx, "replace source", func() error {
		return fileio.Replace(f.snapshot, f.source)
	}); err != nil {
		return nil, fmt.Errorf("replace source: %w", err)
	}

	if err := s.writeBack(ctx, key, table); err != nil {
		return nil, err
	}

	synced, err := s.sync.SyncSession(ctx, key, table)
	if err != nil {
		return nil, err
	}

	routed, err := s.router.RouteFinalizedSession(ctx, key)
	if err != nil {
		return nil, err
	}

	result := &FinalizeResult{
		Key:   key,
		Actor: s.actor(ctx),
		At:    s.clock().UTC(),
		Sync:  synced,
		Route: routed,
	}
	if err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.record(txCtx, key, f, result)
	}); err != nil {
		return nil, err
	}

	if err := s.removeSnapshot(f); err != nil {
		// The finalization is complete; a leftover snapshot only triggers
		// a restore prompt on the next Open.
		s.log.WarnContext(ctx, "snapshot could not be removed",
			slog.String("snapshot", f.snapshot),
			slog.String("error", err.Error()),
		)
	}
	return result, nil
}

// checkComplete fails with ErrIncompleteSession when any record is not
// completed. Skipped records block like incomplete ones.
func (s *Service) checkComplete(ctx context.Context, key domain.SessionKey, table *workbook.Table) error {
	views, err := s.views(ctx, key, table)
	if err != nil {
		return err
	}

	var blocking []string
	for _, v := range views {
		if v.Blocking() {
			blocking = append(blocking, fmt.Sprintf("%s (row %d: %s)", v.Record.PatientNumber, v.Line, v.Status))
		}
	}
	if len(blocking) > 0 {
		return fmt.Errorf("%w: %d of %d records: %s",
			domain.ErrIncompleteSession, len(blocking), len(views), strings.Join(blocking, ", "))
	}
	return nil
}

// writeBack replaces the date's sheet in the collection workbook with the
// finalized rows, after backing the collection up.
func (s *Service) writeBack(ctx context.Context, key domain.SessionKey, table *workbook.Table) error {
	collection := s.paths.CollectionPath(key.Entity)

	backupPath, err := s.backups.Backup(ctx, collection, "collection_"+key.Entity)
	if err != nil {
		return fmt.Errorf("backup collection: %w", err)
	}
	if backupPath != "" {
		s.metrics.Backups.Inc()
	}

	sheet := table.Clone(key.SheetName())
	if err := s.retry.Do(ctx, "write collection", func() error {
		if err := fileio.ProbeIfExists(collection); err != nil {
			return err
		}
		return s.files.ReplaceSheet(collection, sheet)
	}); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}
	return nil
}

// record stores the finalization. The first finalization sets the
// finalized fields; every later one is an edit and leaves them alone.
func (s *Service) record(ctx context.Context, key domain.SessionKey, f sessionFiles, result *FinalizeResult) error {
	session, err := s.sessions.GetByKey(ctx, key)
	if err != nil {
		return err
	}

	result.Kind = domain.FinalizationFirst
	if session.IsFinalized() {
		result.Kind = domain.FinalizationEdit
	}

	switch result.Kind {
	case domain.FinalizationFirst:
		err = s.sessions.MarkFinalized(ctx, session.ID, result.Actor, result.At)
	default:
		err = s.sessions.MarkEdited(ctx, session.ID, result.Actor, result.At)
	}
	if err != nil {
		return err
	}

	ev := domain.EditEvent{
		ID:        uuid.New(),
		SessionID: session.ID,
		Kind:      result.Kind,
		Actor:     result.Actor,
		At:        result.At,
	}
	if err := s.sessions.AddEdit(ctx, ev); err != nil {
		return err
	}
	return appendLog(f.log, key, ev)
}

// appendLog adds one line per finalization to the session's log file.
func appendLog(path string, key domain.SessionKey, ev domain.EditEvent) error {
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fileio.Classify("append", path, err)
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\n",
		ev.At.Format(time.RFC3339), ev.Kind, ev.Actor, key, ev.ID)
	if _, err := fh.WriteString(line); err != nil {
		_ = fh.Close()
		return fileio.Classify("append", path, err)
	}
	if err := fh.Close(); err != nil {
		return fileio.Classify("append", path, err)
	}
	return nil
}
