package fileio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Digest returns the BLAKE2b-256 digest of the file at path.
func Digest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Classify("digest", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("blake2b: %w", err)
	}
	if _, err := io.Copy(h, f); err != nil {
		return nil, Classify("digest", path, err)
	}
	return h.Sum(nil), nil
}

// SameContent reports whether two files have identical bytes.
func SameContent(a, b string) (bool, error) {
	da, err := Digest(a)
	if err != nil {
		return false, err
	}
	db, err := Digest(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(da, db), nil
}

// CopyFile copies src to dst, creating dst's directory. The copy is written
// to a temporary file, verified against src and then renamed into place, so
// dst is either the old file or a complete copy of src.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Classify("mkdir", filepath.Dir(dst), err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	if err := copyBytes(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	same, err := SameContent(src, tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if !same {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy %s: verification failed: digest mismatch", src)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return Classify("rename", dst, err)
	}
	return nil
}

// Replace atomically replaces dst with the content of src after checking
// that dst is not locked. src is left in place.
func Replace(src, dst string) error {
	if err := ProbeIfExists(dst); err != nil {
		return err
	}
	return CopyFile(src, dst)
}

func copyBytes(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return Classify("open", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Classify("create", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return Classify("write", dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return Classify("sync", dst, err)
	}
	if err := out.Close(); err != nil {
		return Classify("close", dst, err)
	}
	return nil
}
