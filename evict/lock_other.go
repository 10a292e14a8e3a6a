//go:build !unix

package evict

import (
	"errors"
	"os"
)

var errLocksUnsupported = errors.New("evict: advisory locks unsupported on this platform")

func tryLockExclusive(*os.File) (bool, error) { return false, errLocksUnsupported }

func unlockFile(*os.File) error { return errLocksUnsupported }
