//go:build windows

package fileio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/windows"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

func TestClassify_PlatformLockErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"sharing violation", &os.PathError{Op: "open", Path: "x", Err: windows.ERROR_SHARING_VIOLATION}},
		{"lock violation", windows.ERROR_LOCK_VIOLATION},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := Classify("open", "ledger.xlsx", tt.err); !IsLocked(err) {
				t.Errorf("Classify(%v) = %v, want ErrFileLocked", tt.err, err)
			}
		})
	}

	if err := Classify("open", "x", windows.ERROR_INVALID_PARAMETER); errors.Is(err, domain.ErrFileLocked) {
		t.Errorf("Classify(ERROR_INVALID_PARAMETER) = %v, should not be a lock error", err)
	}
}

// A handle opened without share-write stands in for a workbook held by a
// spreadsheet application.
func TestProbe_HeldWithoutSharing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "held.xlsx")
	writeFile(t, path, "a")

	name, err := windows.UTF16PtrFromString(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := windows.CreateFile(name, windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ, nil, windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	defer windows.CloseHandle(h)

	if err := Probe(path); !errors.Is(err, domain.ErrFileLocked) {
		t.Errorf("Probe(held) = %v, want ErrFileLocked", err)
	}
}
