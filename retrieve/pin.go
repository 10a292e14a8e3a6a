package retrieve

import "os"

// Pin is a live hold on a cache entry that forbids eviction, realized as
// an open file descriptor holding a shared advisory lock. Release must be
// called exactly once, on every exit path including errors and panics.
type Pin struct {
	file *os.File
	// path is the local path pin's bytes are readable at. For entries
	// backed by a local-mount disk, this is outside the cache root and
	// the cache entry itself (file) holds no bytes — see Release.
	path string
	// cachePath is the cache-root entry's own path, always non-empty.
	cachePath string
	// local is true when path resolves to a local-mount disk file rather
	// than the cache entry itself.
	local bool
}

// Path returns the local path the pin guarantees readable for its
// lifetime.
func (p *Pin) Path() string {
	return p.path
}

// Release closes the pin's file descriptor, dropping its advisory lock
// and permitting eviction of the underlying entry once no other pin holds
// it.
func (p *Pin) Release() error {
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}

// upgradeExclusiveNonBlocking attempts to upgrade the pin's shared lock to
// an exclusive one without blocking, for GetOnce/BatchOnce's delete-on-
// release semantics. It reports whether the upgrade succeeded.
func (p *Pin) upgradeExclusiveNonBlocking() (bool, error) {
	if p.file == nil {
		return false, nil
	}
	return tryLockExclusive(p.file)
}

// DeleteOnRelease attempts to remove the cache entry backing this pin,
// for GetOnce/BatchOnce single-use semantics. It only acts if the shared
// lock can be upgraded to exclusive without blocking — otherwise another
// holder is still using the entry, and it is left for ordinary eviction.
// It is a no-op for a pin resolved to a local-mount disk file, since that
// path was never a cache-root entry to begin with.
func (p *Pin) DeleteOnRelease() error {
	if p.local || p.file == nil {
		return nil
	}
	ok, err := p.upgradeExclusiveNonBlocking()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := os.Remove(p.cachePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
