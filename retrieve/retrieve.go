// Package retrieve implements the concurrent retrieve/retain protocol: the
// cache's creator/follower dance over advisory file locks that lets many
// processes sharing a cache directory deduplicate fetches of the same URL
// and safely share the result.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxRetries bounds the follower-path retry loop. The original design
// recursed into retrieve on nlink==0; a systems-language port prefers an
// iterative loop with a small bound, to avoid unbounded stack growth
// against a chronically failing URL.
const maxRetries = 3

// Sources dispatches the bytes for url into w, or resolves a local-mount
// path without writing any bytes. It is the retrieve engine's only
// dependency on the wider world — RemoteReader, the disk registry, and
// the local-disk fast path are all reached through it, so the protocol
// itself can be tested with a fake.
type Sources interface {
	// Dispatch streams url's bytes into w, unless url addresses a
	// local-mount disk object, in which case it returns that object's
	// absolute path with isLocal=true and writes nothing.
	Dispatch(ctx context.Context, url string, w io.Writer) (localPath string, isLocal bool, err error)
}

// ErrRepeatedFailure is returned when the follower retry budget is
// exhausted against a placeholder that keeps getting unlinked.
var ErrRepeatedFailure = errors.New("retrieve: repeated fetch failure")

// CheckMime inspects the bytes at a just-populated entry's path and
// reports an error if they should be rejected, e.g. for a MIME type
// outside a configured allow-list. A nil CheckMime skips the check.
type CheckMime func(path string) error

// Retrieve produces a pinned local path for url, backed by the cache entry
// at cachePath (root/key). It blocks on whichever advisory lock the
// current state of cachePath requires.
func Retrieve(ctx context.Context, cachePath, url string, sources Sources, checkMime CheckMime) (*Pin, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		pin, retry, err := retrieveOnce(ctx, cachePath, url, sources, checkMime)
		if err != nil {
			return nil, err
		}
		if !retry {
			return pin, nil
		}
	}
	return nil, fmt.Errorf("retrieve %q: %w", url, ErrRepeatedFailure)
}

// retrieveOnce makes a single creator-or-follower attempt. retry is true
// when the caller observed a dead placeholder (nlink==0) and should loop.
func retrieveOnce(ctx context.Context, cachePath, url string, sources Sources, checkMime CheckMime) (pin *Pin, retry bool, err error) {
	f, err := os.OpenFile(cachePath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err == nil {
		return create(ctx, f, cachePath, url, sources, checkMime)
	}
	if !os.IsExist(err) {
		return nil, false, fmt.Errorf("retrieve %q: open %s: %w", url, cachePath, err)
	}

	return follow(cachePath, url)
}

// create runs the creator branch: the caller just made cachePath, so it
// owns populating it. f remains open (and, on success, the Pin takes
// ownership of it) for the entire lifetime of this function.
func create(ctx context.Context, f *os.File, cachePath, url string, sources Sources, checkMime CheckMime) (*Pin, bool, error) {
	if err := lockExclusive(f); err != nil {
		abortCreate(f, cachePath)
		return nil, false, fmt.Errorf("retrieve %q: lock: %w", url, err)
	}

	localPath, isLocal, err := sources.Dispatch(ctx, url, f)
	if err != nil {
		abortCreate(f, cachePath)
		return nil, false, fmt.Errorf("retrieve %q: %w", url, err)
	}

	resolvedPath := cachePath
	if isLocal {
		// The placeholder never received bytes for a local-mount file;
		// unlink it now so followers observe nlink==0 and restart,
		// exactly as they would after a failed fetch. f stays open so
		// its lock (about to be downgraded) stays live for this pin.
		if rmErr := os.Remove(cachePath); rmErr != nil && !os.IsNotExist(rmErr) {
			abortCreate(f, cachePath)
			return nil, false, fmt.Errorf("retrieve %q: unlink placeholder: %w", url, rmErr)
		}
		resolvedPath = localPath
	}

	if checkMime != nil {
		if err := checkMime(resolvedPath); err != nil {
			if isLocal {
				abortCreateLocal(f)
			} else {
				abortCreate(f, cachePath)
			}
			return nil, false, fmt.Errorf("retrieve %q: %w", url, err)
		}
	}

	if err := downgradeToShared(f); err != nil {
		abortCreate(f, cachePath)
		return nil, false, fmt.Errorf("retrieve %q: downgrade lock: %w", url, err)
	}

	touch(resolvedPath)

	return &Pin{file: f, path: resolvedPath, cachePath: cachePath, local: isLocal}, false, nil
}

// abortCreateLocal unwinds a failed creator attempt whose placeholder was
// already unlinked for a local-mount resolution: only the descriptor
// needs closing, the cache root has nothing left to remove.
func abortCreateLocal(f *os.File) {
	_ = f.Close()
}

// abortCreate unwinds a failed creator attempt: unlink the placeholder so
// a zero link count signals followers to retry, then close the
// descriptor, releasing its lock.
func abortCreate(f *os.File, cachePath string) {
	_ = os.Remove(cachePath)
	_ = f.Close()
}

// follow runs the follower branch: cachePath already existed when we
// tried to create it, so someone else — in this process or another — is
// either writing it or has already finished.
func follow(cachePath, url string) (*Pin, bool, error) {
	f, err := os.Open(cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			// The creator already unlinked it (e.g. a local-mount
			// resolution, or a fetch that failed between our O_EXCL
			// attempt and this Open). Retry from scratch.
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("retrieve %q: open %s: %w", url, cachePath, err)
	}

	if err := lockShared(f); err != nil {
		_ = f.Close()
		return nil, false, fmt.Errorf("retrieve %q: lock: %w", url, err)
	}

	links, err := nlink(f)
	if err != nil {
		_ = f.Close()
		return nil, false, fmt.Errorf("retrieve %q: stat: %w", url, err)
	}
	if links == 0 {
		_ = f.Close()
		return nil, true, nil
	}

	touch(cachePath)

	return &Pin{file: f, path: cachePath, cachePath: cachePath}, false, nil
}

// touch updates atime/mtime to mark this entry as just used. Touches are
// advisory: concurrent touches are idempotent and races are benign,
// eviction re-checks liveness under lock before deleting.
func touch(path string) {
	now := nowFunc()
	_ = os.Chtimes(path, now, now)
}
