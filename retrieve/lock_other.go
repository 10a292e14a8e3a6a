//go:build !unix

package retrieve

import (
	"errors"
	"os"
)

// ErrLocksUnsupported is returned on platforms without POSIX advisory
// locks. The protocol's cross-process guarantees depend on flock; ports to
// such platforms need a record-lock or sidecar-lockfile substitute (see
// spec's design notes on non-POSIX filesystems) rather than a silent noop.
var ErrLocksUnsupported = errors.New("retrieve: advisory locks unsupported on this platform")

func lockExclusive(*os.File) error { return ErrLocksUnsupported }

func lockShared(*os.File) error { return ErrLocksUnsupported }

func tryLockExclusive(*os.File) (bool, error) { return false, ErrLocksUnsupported }

func downgradeToShared(*os.File) error { return ErrLocksUnsupported }

func nlink(*os.File) (uint64, error) { return 0, ErrLocksUnsupported }
