//go:build unix

package fileio

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking exclusive flock on f.
func tryLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func isLockError(err error) bool {
	return errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY)
}
