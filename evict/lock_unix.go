//go:build unix

package evict

import (
	"os"
	"syscall"
)

// tryLockExclusive attempts a non-blocking exclusive advisory lock, the
// same primitive the retrieve protocol uses to hold entries pinned. A
// locked entry is in use and must not be deleted.
func tryLockExclusive(f *os.File) (bool, error) {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == syscall.EWOULDBLOCK {
		return false, nil
	}
	return false, err
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
