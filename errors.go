package filecache

import (
	"errors"
	"fmt"

	"github.com/filecache/filecache/retrieve"
	"github.com/filecache/filecache/source"
)

// Errors returned by the cache and its source readers. ErrFileTooLarge,
// ErrSourceTimeout, and ErrRepeatedFailure alias their originating
// package's own sentinel rather than redeclaring it, so errors.Is at this
// package's boundary matches exactly what the subpackage returned.
var (
	// ErrUnknownDisk is returned when a URL scheme names a disk absent
	// from the registry.
	ErrUnknownDisk = errors.New("filecache: unknown disk")

	// ErrNotFound is returned when a local-resolver target does not exist.
	ErrNotFound = errors.New("filecache: not found")

	// ErrFileTooLarge is returned when bytes exceed max_file_size, or a
	// HEAD Content-Length does.
	ErrFileTooLarge = source.ErrTooLarge

	// ErrSourceTimeout is returned when a remote stream reports a timeout.
	ErrSourceTimeout = source.ErrTimeout

	// ErrDisallowedMime is returned when a MIME type is not in the
	// configured allow-set.
	ErrDisallowedMime = errors.New("filecache: disallowed mime type")

	// ErrIoError wraps unexpected filesystem errors met by this package
	// itself: creating the cache directory, opening a cached entry in
	// GetStream, and reading an entry for the MIME check. Lock, open and
	// unlink errors inside the retrieve engine are returned in a
	// FetchError without ErrIoError.
	ErrIoError = errors.New("filecache: io error")

	// ErrRepeatedFailure is returned when retrieve exhausts its retry
	// budget against a chronically failing placeholder.
	ErrRepeatedFailure = retrieve.ErrRepeatedFailure
)

// FetchError wraps the underlying cause of a failed source read, together
// with the URL that was being fetched.
type FetchError struct {
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("filecache: fetch %q failed: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// FetchFailed wraps cause as a FetchError for url.
func FetchFailed(url string, cause error) error {
	return &FetchError{URL: url, Cause: cause}
}
