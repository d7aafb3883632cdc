package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/metrics"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
	"github.com/heartmarshall/tumorboard/internal/service/router"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// ===========================================================================
// Manual mocks (moq-style with func fields)
// ===========================================================================

// mockSessionRepo keeps one session in memory. A nil session is not found.
type mockSessionRepo struct {
	session *domain.Session
	edits   []domain.EditEvent

	MarkFinalizedFunc func(ctx context.Context, sessionID int64, actor string, at time.Time) error
}

func (m *mockSessionRepo) GetByKey(_ context.Context, key domain.SessionKey) (*domain.Session, error) {
	if m.session == nil {
		return nil, domain.ErrNotFound
	}
	s := *m.session
	return &s, nil
}

func (m *mockSessionRepo) MarkFinalized(ctx context.Context, sessionID int64, actor string, at time.Time) error {
	if m.MarkFinalizedFunc != nil {
		return m.MarkFinalizedFunc(ctx, sessionID, actor, at)
	}
	if m.session.FinalizedAt != nil {
		return domain.ErrConflict
	}
	m.session.FinalizedAt, m.session.FinalizedBy = &at, &actor
	return nil
}

func (m *mockSessionRepo) MarkEdited(_ context.Context, sessionID int64, actor string, at time.Time) error {
	m.session.LastEditedAt, m.session.LastEditedBy = &at, &actor
	return nil
}

func (m *mockSessionRepo) AddEdit(_ context.Context, ev domain.EditEvent) error {
	m.edits = append(m.edits, ev)
	return nil
}

func (m *mockSessionRepo) ListEdits(context.Context, int64) ([]domain.EditEvent, error) {
	return m.edits, nil
}

type mockSyncer struct {
	calls  int
	tables []*workbook.Table
}

func (m *mockSyncer) SyncSession(_ context.Context, key domain.SessionKey, table *workbook.Table) (*importer.Result, error) {
	m.calls++
	m.tables = append(m.tables, table)
	return &importer.Result{Entity: key.Entity, Sessions: 1, Records: len(table.Rows)}, nil
}

type mockRouter struct {
	calls     int
	RouteFunc func(ctx context.Context, key domain.SessionKey) (*router.Result, error)
}

func (m *mockRouter) RouteFinalizedSession(ctx context.Context, key domain.SessionKey) (*router.Result, error) {
	m.calls++
	if m.RouteFunc != nil {
		return m.RouteFunc(ctx, key)
	}
	return &router.Result{Key: key}, nil
}

type mockBackups struct {
	categories []string
}

func (m *mockBackups) Backup(_ context.Context, _, category string) (string, error) {
	m.categories = append(m.categories, category)
	return "", nil
}

type mockTxManager struct{}

func (m *mockTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type testDeps struct {
	sessions *mockSessionRepo
	sync     *mockSyncer
	router   *mockRouter
	backups  *mockBackups
	metrics  *metrics.Metrics
	paths    config.PathsConfig
}

func newTestService(t *testing.T) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		sessions: &mockSessionRepo{session: &domain.Session{ID: 7, EntityName: testKey.Entity, Date: testKey.Date}},
		sync:     &mockSyncer{},
		router:   &mockRouter{},
		backups:  &mockBackups{},
		metrics:  metrics.New(),
		paths:    config.PathsConfig{DataRoot: t.TempDir()},
	}
	retry := fileio.NewRetrier(
		fileio.RetryPolicy{Retries: 2, Initial: time.Millisecond, Max: time.Millisecond},
		slog.Default(),
		func(op string) { deps.metrics.LockRetries.WithLabelValues(op).Inc() },
	)
	svc := NewService(slog.Default(), config.SessionConfig{Actor: "tester"}, deps.paths, nil,
		deps.sessions, workbook.Files{}, deps.sync, deps.router, deps.backups, retry, &mockTxManager{}, deps.metrics)
	return svc, deps
}

var testKey = domain.NewSessionKey("Thorax", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

var (
	completeRow   = []string{"1", "Muster Hans", "15.03.1960", "NSCLC", "C34.1", "ja", "dringend", "1", "Planung CT", "nein"}
	incompleteRow = []string{"2", "Beispiel Eva", "01.01.1970", "Mamma-Ca", "C50.9", "ja", "", "", "", ""}
	skippedRow    = []string{"3", "Test Max", "", "", "", "---", "---", "", "---", ""}
)

// writeCollection creates the entity's collection workbook with one session
// sheet for testKey.
func writeCollection(t *testing.T, paths config.PathsConfig, rows ...[]string) {
	t.Helper()
	table := workbook.NewTable(testKey.SheetName())
	table.Rows = rows
	require.NoError(t, workbook.WriteTable(paths.CollectionPath(testKey.Entity), table))
}

func cellOf(t *testing.T, path, patient string, col domain.Column) string {
	t.Helper()
	table, err := workbook.ReadTable(path, "")
	require.NoError(t, err)
	idx, _ := table.Resolve()
	row := table.FindRow(idx, patient)
	require.GreaterOrEqual(t, row, 0, "patient %s not in %s", patient, path)
	i := idx[col]
	if i >= len(table.Rows[row]) {
		return ""
	}
	return table.Rows[row][i]
}

// completeAll fills the fields row 2 lacks.
func completeAll(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	for col, v := range map[domain.Column]string{
		domain.ColCallPriority: "zeitnah",
		domain.ColCasePriority: "2",
		domain.ColRemarks:      "Bestrahlung geplant",
	} {
		_, err := svc.UpdateField(ctx, testKey, "2", col, v)
		require.NoError(t, err)
	}
}

// ===========================================================================
// Open / Restore
// ===========================================================================

func TestOpen_CreatesSourceFromCollection(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow, incompleteRow)

	st, err := svc.Open(context.Background(), testKey)
	require.NoError(t, err)

	assert.Equal(t, StateSnapshotActive, st.State)
	assert.False(t, st.Dirty)
	assert.Equal(t, 1, st.Counts[domain.RecordStatusCompleted])
	assert.Equal(t, 1, st.Counts[domain.RecordStatusNormal])
	assert.Equal(t, 1, st.Blocking)
	assert.False(t, st.Finalizable())

	assert.FileExists(t, svc.SourcePath(testKey))
	assert.FileExists(t, svc.SnapshotPath(testKey))
	assert.Equal(t, filepath.Join(deps.paths.SessionsDir("Thorax"), "01_06_2024_temp_session.xlsx"), svc.SnapshotPath(testKey))
}

func TestOpen_NoSourceNoCollection(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.Open(context.Background(), testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.StepOpen, domain.StepOf(err))
	assert.NoFileExists(t, svc.SnapshotPath(testKey))
}

func TestOpen_ExistingSnapshotSurfacesRestoreChoice(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)

	_, err = svc.Open(ctx, testKey)
	require.Error(t, err)

	var restore *domain.RestoreRequiredError
	require.ErrorAs(t, err, &restore)
	assert.ErrorIs(t, err, domain.ErrSnapshotExists)
	assert.Equal(t, svc.SnapshotPath(testKey), restore.SnapshotPath)
	assert.False(t, restore.ModifiedAt.IsZero())
	assert.Equal(t, domain.StepSnapshotRestore, domain.StepOf(err))
}

func TestRestore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		choice    domain.RestoreChoice
		wantDirty bool
		wantCell  string
	}{
		{name: "continue keeps edits", choice: domain.RestoreContinue, wantDirty: true, wantCell: "Nachsorge"},
		{name: "discard starts over", choice: domain.RestoreDiscard, wantDirty: false, wantCell: "Planung CT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, deps := newTestService(t)
			writeCollection(t, deps.paths, completeRow)
			ctx := context.Background()

			_, err := svc.Open(ctx, testKey)
			require.NoError(t, err)
			_, err = svc.UpdateField(ctx, testKey, "1", domain.ColRemarks, "Nachsorge")
			require.NoError(t, err)
			require.NoError(t, svc.Discard(ctx, testKey))

			st, err := svc.Restore(ctx, testKey, tt.choice)
			require.NoError(t, err)

			assert.Equal(t, StateSnapshotActive, st.State)
			assert.Equal(t, tt.wantDirty, st.Dirty)
			assert.Equal(t, tt.wantCell, cellOf(t, svc.SnapshotPath(testKey), "1", domain.ColRemarks))
		})
	}
}

func TestRestore_Errors(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Restore(ctx, testKey, domain.RestoreContinue)
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
	assert.Equal(t, domain.StepSnapshotRestore, domain.StepOf(err))

	_, err = svc.Restore(ctx, testKey, "maybe")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ===========================================================================
// UpdateField / Discard / Status
// ===========================================================================

func TestUpdateField_EditsSnapshotOnly(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow, incompleteRow)
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)

	v, err := svc.UpdateField(ctx, testKey, "2", domain.ColCallPriority, "zeitnah")
	require.NoError(t, err)
	assert.Equal(t, domain.RecordStatusNormal, v.Status)
	assert.Equal(t, []domain.Column{domain.ColCasePriority, domain.ColRemarks}, v.Missing)
	assert.Equal(t, 3, v.Line)

	completeAll(t, svc)

	st, err := svc.Status(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, st.Dirty)
	assert.Equal(t, 2, st.Counts[domain.RecordStatusCompleted])
	assert.True(t, st.Finalizable())

	assert.Equal(t, "Bestrahlung geplant", cellOf(t, svc.SnapshotPath(testKey), "2", domain.ColRemarks))
	assert.Equal(t, "", cellOf(t, svc.SourcePath(testKey), "2", domain.ColRemarks), "source must stay untouched")
	assert.Zero(t, deps.sync.calls)
}

func TestUpdateField_Rejected(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	ctx := context.Background()
	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)

	tests := []struct {
		name    string
		patient string
		col     domain.Column
		value   string
		want    error
	}{
		{name: "patient number", patient: "1", col: domain.ColPatientNumber, value: "9", want: domain.ErrValidation},
		{name: "unknown column", patient: "1", col: "weight", value: "80", want: domain.ErrValidation},
		{name: "empty name", patient: "1", col: domain.ColName, value: " ", want: domain.ErrValidation},
		{name: "bad case priority", patient: "1", col: domain.ColCasePriority, value: "hoch", want: domain.ErrValidation},
		{name: "bad birth date", patient: "1", col: domain.ColBirthDate, value: "gestern", want: domain.ErrValidation},
		{name: "bad study flag", patient: "1", col: domain.ColStudy, value: "vielleicht", want: domain.ErrValidation},
		{name: "unknown patient", patient: "99", col: domain.ColRemarks, value: "x", want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateField(ctx, testKey, tt.patient, tt.col, tt.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.StepEdit, domain.StepOf(err))
		})
	}

	st, err := svc.Status(ctx, testKey)
	require.NoError(t, err)
	assert.False(t, st.Dirty)
}

func TestUpdateField_NoSnapshot(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.UpdateField(context.Background(), testKey, "1", domain.ColRemarks, "x")
	assert.ErrorIs(t, err, domain.ErrNoSnapshot)
}

func TestDiscard_KeepsSnapshot(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, testKey, "1", domain.ColRemarks, "geändert")
	require.NoError(t, err)

	require.NoError(t, svc.Discard(ctx, testKey))
	require.NoError(t, svc.Discard(ctx, testKey), "discard is safe to repeat")

	st, err := svc.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StateSnapshotActive, st.State)
	assert.False(t, st.Dirty)
	assert.FileExists(t, svc.SnapshotPath(testKey))
}

func TestDiscard_NoSnapshot(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	assert.ErrorIs(t, svc.Discard(context.Background(), testKey), domain.ErrNoSnapshot)
}

func TestStatus_NoSnapshotNotImported(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	deps.sessions.session = nil

	st, err := svc.Status(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, StateNoSnapshot, st.State)
	assert.Nil(t, st.Session)
	assert.Nil(t, st.SnapshotModifiedAt)
}

// ===========================================================================
// Finalize
// ===========================================================================

func TestFinalize_BlockedByIncompleteOrSkipped(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		row  []string
	}{
		{name: "incomplete", row: incompleteRow},
		{name: "skipped", row: skippedRow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, deps := newTestService(t)
			writeCollection(t, deps.paths, completeRow, tt.row)
			ctx := context.Background()
			_, err := svc.Open(ctx, testKey)
			require.NoError(t, err)

			_, err = svc.Finalize(ctx, testKey)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrIncompleteSession)
			assert.Equal(t, domain.StepFinalize, domain.StepOf(err))
			assert.Contains(t, err.Error(), "row 3")

			assert.FileExists(t, svc.SnapshotPath(testKey))
			assert.Zero(t, deps.sync.calls)
			assert.Nil(t, deps.sessions.session.FinalizedAt)
		})
	}
}

func TestFinalize_FirstThenEdit(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow, incompleteRow)
	ctx := ctxutil.WithActor(context.Background(), "dr.keller")

	// First finalization.
	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)
	completeAll(t, svc)

	first, err := svc.Finalize(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizationFirst, first.Kind)
	assert.Equal(t, "dr.keller", first.Actor)

	assert.NoFileExists(t, svc.SnapshotPath(testKey))
	assert.Equal(t, "Bestrahlung geplant", cellOf(t, svc.SourcePath(testKey), "2", domain.ColRemarks))
	assert.Equal(t, "Bestrahlung geplant", cellOf(t, deps.paths.CollectionPath("Thorax"), "2", domain.ColRemarks))
	assert.Equal(t, 1, deps.sync.calls)
	assert.Equal(t, 1, deps.router.calls)
	assert.Equal(t, []string{"collection_Thorax"}, deps.backups.categories)

	finalizedAt := deps.sessions.session.FinalizedAt
	require.NotNil(t, finalizedAt)
	assert.Equal(t, "dr.keller", *deps.sessions.session.FinalizedBy)

	// Edit after finalization.
	_, err = svc.Open(ctx, testKey)
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, testKey, "1", domain.ColRemarks, "verschoben")
	require.NoError(t, err)

	edit, err := svc.Finalize(ctxutil.WithActor(context.Background(), "dr.berg"), testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizationEdit, edit.Kind)

	assert.Equal(t, finalizedAt, deps.sessions.session.FinalizedAt, "first finalization is immutable")
	assert.Equal(t, "dr.keller", *deps.sessions.session.FinalizedBy)
	require.NotNil(t, deps.sessions.session.LastEditedBy)
	assert.Equal(t, "dr.berg", *deps.sessions.session.LastEditedBy)
	require.Len(t, deps.sessions.edits, 2)
	assert.Equal(t, domain.FinalizationEdit, deps.sessions.edits[1].Kind)

	logData, err := os.ReadFile(filepath.Join(deps.paths.SessionsDir("Thorax"), "01_06_2024_finalization.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "FINALIZED\tdr.keller")
	assert.Contains(t, lines[1], "EDITED\tdr.berg")

	assert.Equal(t, 1.0, testutil.ToFloat64(deps.metrics.Finalizations.WithLabelValues("Thorax", "FINALIZED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.metrics.Finalizations.WithLabelValues("Thorax", "EDITED")))
}

func TestFinalize_LockedSourceKeepsState(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, testKey, "1", domain.ColRemarks, "neu")
	require.NoError(t, err)

	owner := fileio.OwnerFile(svc.SourcePath(testKey))
	require.NoError(t, os.WriteFile(owner, []byte("x"), 0o644))

	_, err = svc.Finalize(ctx, testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFileLocked)
	assert.Equal(t, domain.StepFinalize, domain.StepOf(err))

	assert.FileExists(t, svc.SnapshotPath(testKey))
	assert.Equal(t, "Planung CT", cellOf(t, svc.SourcePath(testKey), "1", domain.ColRemarks))
	assert.Nil(t, deps.sessions.session.FinalizedAt)
	assert.Empty(t, deps.sessions.edits)
	assert.Zero(t, deps.sync.calls)
	assert.Equal(t, 2.0, testutil.ToFloat64(deps.metrics.LockRetries.WithLabelValues("replace source")))

	// Once the lock is gone the same call succeeds.
	require.NoError(t, os.Remove(owner))
	res, err := svc.Finalize(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.FinalizationFirst, res.Kind)
	assert.Equal(t, "neu", cellOf(t, svc.SourcePath(testKey), "1", domain.ColRemarks))
}

func TestFinalize_RouteFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	deps.router.RouteFunc = func(context.Context, domain.SessionKey) (*router.Result, error) {
		return nil, domain.NewStepError(domain.StepRoute, errors.New("ledger unreadable"))
	}
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, testKey)
	require.Error(t, err)
	assert.Equal(t, domain.StepRoute, domain.StepOf(err))
	assert.FileExists(t, svc.SnapshotPath(testKey))
	assert.Nil(t, deps.sessions.session.FinalizedAt)
}

func TestFinalize_StoreFailureWritesNoLog(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	deps.sessions.MarkFinalizedFunc = func(context.Context, int64, string, time.Time) error {
		return errors.New("database is locked")
	}
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, testKey)
	require.Error(t, err)
	assert.FileExists(t, svc.SnapshotPath(testKey))
	assert.NoFileExists(t, filepath.Join(deps.paths.SessionsDir("Thorax"), "01_06_2024_finalization.log"))
}

func TestFinalize_DefaultActor(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	writeCollection(t, deps.paths, completeRow)
	ctx := context.Background()

	_, err := svc.Open(ctx, testKey)
	require.NoError(t, err)
	res, err := svc.Finalize(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, "tester", res.Actor)
}

// ===========================================================================
// ListSnapshots
// ===========================================================================

func TestListSnapshots(t *testing.T) {
	t.Parallel()
	svc, deps := newTestService(t)
	ctx := context.Background()

	none, err := svc.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	writeCollection(t, deps.paths, completeRow)
	_, err = svc.Open(ctx, testKey)
	require.NoError(t, err)
	_, err = svc.UpdateField(ctx, testKey, "1", domain.ColRemarks, "x")
	require.NoError(t, err)

	got, err := svc.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testKey, got[0].Key)
	assert.True(t, got[0].Dirty)
	assert.Equal(t, svc.SnapshotPath(testKey), got[0].Path)
}

func TestListSnapshots_MissingDataRoot(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	svc.paths.DataRoot = filepath.Join(t.TempDir(), "absent")

	got, err := svc.ListSnapshots(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
