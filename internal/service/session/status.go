package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// State is the on-disk lifecycle state of a session.
type State string

const (
	StateNoSnapshot     State = "no-snapshot"
	StateSnapshotActive State = "snapshot-active"
)

func (s State) String() string { return string(s) }

// Status describes a session as seen by the operator.
type Status struct {
	Key   domain.SessionKey
	State State
	// Dirty is set while the snapshot holds edits not yet finalized.
	Dirty              bool
	SnapshotModifiedAt *time.Time
	// Session is nil until the session has been imported.
	Session *domain.Session
	History []domain.EditEvent
	// Counts holds the completeness markers of the snapshot records.
	Counts   map[domain.RecordStatus]int
	Blocking int
}

// Finalizable reports whether Finalize would pass the completeness check.
func (st *Status) Finalizable() bool {
	return st.State == StateSnapshotActive && st.Blocking == 0
}

// Status reports the state of key without changing anything.
func (s *Service) Status(ctx context.Context, key domain.SessionKey) (*Status, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	f := s.filesFor(key)
	st := &Status{Key: key, State: StateNoSnapshot, Counts: map[domain.RecordStatus]int{}}

	session, err := s.sessions.GetByKey(ctx, key)
	switch {
	case err == nil:
		st.Session = session
		if st.History, err = s.sessions.ListEdits(ctx, session.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	info, err := os.Stat(f.snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fileio.Classify("stat", f.snapshot, err)
	}

	st.State = StateSnapshotActive
	mod := info.ModTime()
	st.SnapshotModifiedAt = &mod
	if st.Dirty, err = exists(f.unsaved); err != nil {
		return nil, fileio.Classify("stat", f.unsaved, err)
	}

	views, err := s.Records(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		st.Counts[v.Status]++
		if v.Blocking() {
			st.Blocking++
		}
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Discard
// ---------------------------------------------------------------------------

// Discard drops the unsaved flag of the working snapshot. The snapshot itself
// stays on disk; the session remains open.
func (s *Service) Discard(ctx context.Context, key domain.SessionKey) error {
	if err := key.Validate(); err != nil {
		return domain.NewStepError(domain.StepEdit, err)
	}
	f := s.filesFor(key)
	if err := requireSnapshot(key, f); err != nil {
		return s.fail(domain.StepEdit, err)
	}
	if err := s.clearDirty(f); err != nil {
		return s.fail(domain.StepEdit, err)
	}

	s.log.InfoContext(ctx, "unsaved changes discarded", slog.String("session", key.String()))
	return nil
}

// ---------------------------------------------------------------------------
// ListSnapshots
// ---------------------------------------------------------------------------

// SnapshotInfo describes a working snapshot found on disk.
type SnapshotInfo struct {
	Key        domain.SessionKey
	Path       string
	ModifiedAt time.Time
	Dirty      bool
}

// ListSnapshots finds every working snapshot under the data root, oldest
// first. Each one is a session that was opened and never finalized.
func (s *Service) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	var out []SnapshotInfo

	err := filepath.WalkDir(s.paths.DataRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.paths.DataRoot {
				return fs.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		date, ok := snapshotDate(d.Name())
		if !ok {
			return nil
		}
		sessionsDir := filepath.Dir(path)
		if filepath.Base(sessionsDir) != "sessions" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		key := domain.NewSessionKey(filepath.Base(filepath.Dir(sessionsDir)), date)
		dirty, err := exists(s.filesFor(key).unsaved)
		if err != nil {
			return err
		}
		out = append(out, SnapshotInfo{Key: key, Path: path, ModifiedAt: info.ModTime(), Dirty: dirty})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.Before(out[j].ModifiedAt) })
	return out, nil
}
