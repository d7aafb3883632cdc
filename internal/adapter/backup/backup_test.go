package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// stepClock returns a clock advancing one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type recordingMirror struct {
	names []string
	err   error
}

func (m *recordingMirror) Put(_ context.Context, name, _ string) error {
	m.names = append(m.names, name)
	return m.err
}

func newSource(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "aufgebot_dringend.xlsx")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestName(t *testing.T) {
	t.Parallel()

	got := Name(time.Date(2024, 6, 1, 17, 4, 5, 123456000, time.UTC), "urgent", ".xlsx")
	if want := "20240601-170405.123456_urgent.xlsx"; got != want {
		t.Errorf("Name = %q, want %q", got, want)
	}
}

func TestManager_BackupAndRotate(t *testing.T) {
	t.Parallel()

	src := newSource(t, "ledger")
	mirror := &recordingMirror{}
	m := NewManager(filepath.Join(t.TempDir(), "backups"), 2, mirror, discard())
	m.clock = stepClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var written []string
	for i := 0; i < 3; i++ {
		p, err := m.Backup(ctx, src, "urgent")
		if err != nil {
			t.Fatalf("Backup #%d: %v", i, err)
		}
		written = append(written, p)
	}

	list, err := m.List("urgent")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2 (rotation)", len(list))
	}
	if list[0] != written[1] || list[1] != written[2] {
		t.Errorf("rotation kept %v, want the newest two %v", list, written[1:])
	}
	if len(mirror.names) != 3 {
		t.Errorf("mirror received %d backups, want 3", len(mirror.names))
	}

	latest, err := m.Latest("urgent")
	if err != nil || latest != written[2] {
		t.Errorf("Latest = %q, %v; want %q", latest, err, written[2])
	}
}

func TestManager_CategoriesAreSeparate(t *testing.T) {
	t.Parallel()

	src := newSource(t, "x")
	m := NewManager(t.TempDir(), 1, nil, discard())
	m.clock = stepClock(time.Now())
	ctx := context.Background()

	if _, err := m.Backup(ctx, src, "soon"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Backup(ctx, src, "soon_extra"); err != nil {
		t.Fatal(err)
	}

	soon, _ := m.List("soon")
	extra, _ := m.List("soon_extra")
	if len(soon) != 1 || len(extra) != 1 {
		t.Errorf("soon=%v extra=%v, want one each", soon, extra)
	}
}

func TestManager_MissingSource(t *testing.T) {
	t.Parallel()

	m := NewManager(t.TempDir(), 3, nil, discard())
	p, err := m.Backup(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"), "urgent")
	if err != nil || p != "" {
		t.Errorf("Backup(missing) = %q, %v; want empty, nil", p, err)
	}

	if _, err := m.Latest("urgent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Latest on empty = %v, want ErrNotFound", err)
	}
}

func TestManager_MirrorFailureDoesNotFailBackup(t *testing.T) {
	t.Parallel()

	src := newSource(t, "x")
	m := NewManager(t.TempDir(), 3, &recordingMirror{err: errors.New("offline")}, discard())

	if _, err := m.Backup(context.Background(), src, "urgent"); err != nil {
		t.Errorf("Backup = %v, want nil despite mirror failure", err)
	}
}

func TestDirMirror(t *testing.T) {
	t.Parallel()

	src := newSource(t, "payload")
	dir := filepath.Join(t.TempDir(), "offsite")
	m := &DirMirror{Dir: dir}

	if err := m.Put(context.Background(), "b.xlsx", src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "b.xlsx"))
	if err != nil || string(got) != "payload" {
		t.Errorf("mirrored = %q, %v", got, err)
	}
}

type fakePutter struct {
	bucket, key string
	body        []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	b, err := io.ReadAll(in.Body)
	f.body = b
	return &s3.PutObjectOutput{}, err
}

func TestS3Mirror_Put(t *testing.T) {
	t.Parallel()

	src := newSource(t, "payload")
	client := &fakePutter{}
	m := NewS3Mirror(client, "tb-backups", "tumorboard/")

	if err := m.Put(context.Background(), "20240601-000000.000000_urgent.xlsx", src); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if client.bucket != "tb-backups" {
		t.Errorf("bucket = %q", client.bucket)
	}
	if client.key != "tumorboard/20240601-000000.000000_urgent.xlsx" {
		t.Errorf("key = %q", client.key)
	}
	if string(client.body) != "payload" {
		t.Errorf("body = %q", client.body)
	}
}

func TestNewMirror(t *testing.T) {
	t.Parallel()

	none, err := NewMirror(context.Background(), config.BackupConfig{Mirror: config.MirrorNone}, discard())
	if err != nil || none != nil {
		t.Errorf("NewMirror(none) = %v, %v", none, err)
	}

	fs, err := NewMirror(context.Background(), config.BackupConfig{Mirror: config.MirrorFS, MirrorDir: "/mnt/x"}, discard())
	if err != nil {
		t.Fatal(err)
	}
	if dm, ok := fs.(*DirMirror); !ok || dm.Dir != "/mnt/x" {
		t.Errorf("NewMirror(fs) = %#v", fs)
	}
}
