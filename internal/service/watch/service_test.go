package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
)

type mockImporter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockImporter) ImportCollection(_ context.Context, entity, _ string) (*importer.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, entity)
	if m.err != nil {
		return nil, m.err
	}
	return &importer.Result{Entity: entity, Sessions: 1}, nil
}

func (m *mockImporter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// start runs the watcher until the test ends and waits for its watches.
func start(t *testing.T, root string, imp *mockImporter, debounce time.Duration) {
	t.Helper()
	svc := NewService(slog.Default(), config.WatchConfig{Debounce: debounce}, config.PathsConfig{DataRoot: root}, imp)
	ready := make(chan struct{})
	svc.ready = func() { close(ready) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("watcher stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
}

func TestCollectionEntity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		entity string
		ok     bool
	}{
		{path: "/data/Thorax/Thorax_collection.xlsx", entity: "Thorax", ok: true},
		{path: "/data/Thorax/~$Thorax_collection.xlsx"},
		{path: "/data/Thorax/.Thorax_collection.xlsx.1234.tmp"},
		{path: "/data/Thorax/Gyn_collection.xlsx"},
		{path: "/data/Thorax/sessions/01_06_2024.xlsx"},
	}
	for _, tt := range tests {
		entity, ok := CollectionEntity(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.entity, entity, tt.path)
	}
}

func TestRun_DebouncesWrites(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Thorax"), 0o755))
	imp := &mockImporter{}
	start(t, root, imp, 300*time.Millisecond)

	path := filepath.Join(root, "Thorax", "Thorax_collection.xlsx")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))
		time.Sleep(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return imp.count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, 1, imp.count())
	assert.Equal(t, []string{"Thorax"}, imp.calls)
}

func TestRun_NewEntityDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	imp := &mockImporter{}
	start(t, root, imp, 50*time.Millisecond)

	dir := filepath.Join(root, "Gyn")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// Give the watcher a moment to add the new directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Gyn_collection.xlsx"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return imp.count() == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestRun_IgnoresOtherFilesAndSurvivesFailures(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	dir := filepath.Join(root, "Thorax")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	imp := &mockImporter{err: errors.New("workbook corrupt")}
	start(t, root, imp, 50*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "~$Thorax_collection.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Thorax_collection.xlsx"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return imp.count() == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Thorax_collection.xlsx"), []byte("y"), 0o644))
	require.Eventually(t, func() bool { return imp.count() == 2 }, 5*time.Second, 20*time.Millisecond)
}
