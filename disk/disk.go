// Package disk provides the named-disk registry consulted by the cache
// when a logical file's URL scheme is not http/https: the scheme then
// names a disk, and the rest of the URL is an object path on that disk.
package disk

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Disk is a single named storage backend. Drivers come in two kinds: a
// Local driver (backed by a directory on the local filesystem, offering a
// PathPrefix so callers can reference files in place) and an Object driver
// (backed by a remote object store, offering only streaming reads).
type Disk interface {
	// Name identifies this disk for error messages.
	Name() string

	// IsLocal reports whether this disk is a local-filesystem mount. If
	// true, PathPrefix returns a usable path prefix and OpenReadStream
	// need not be efficient (callers should prefer PathPrefix).
	IsLocal() bool

	// PathPrefix returns the absolute directory objects are rooted under.
	// Valid only when IsLocal() is true.
	PathPrefix() string

	// OpenReadStream opens a stream of the object's bytes.
	OpenReadStream(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Exists reports whether objectPath exists on this disk.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// MimeType returns the object's MIME type, or "" if unknown.
	MimeType(ctx context.Context, objectPath string) (string, error)

	// Size returns the object's size in bytes, or -1 if unknown.
	Size(ctx context.Context, objectPath string) (int64, error)
}

// Registry maps disk names to Disk implementations. Safe for concurrent
// use; intended to be populated once at startup and read afterward.
type Registry struct {
	mu    sync.RWMutex
	disks map[string]Disk
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{disks: make(map[string]Disk)}
}

// Register adds or replaces the disk under its own Name().
func (r *Registry) Register(d Disk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disks[d.Name()] = d
}

// Lookup returns the disk registered under name.
func (r *Registry) Lookup(name string) (Disk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.disks[name]
	return d, ok
}

// Resolve returns the disk registered under name, or a *NotConfiguredError.
func (r *Registry) Resolve(name string) (Disk, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, &NotConfiguredError{Name: name}
	}
	return d, nil
}

// ErrNotConfigured is wrapped by NotConfiguredError; callers match it with
// errors.Is.
var ErrNotConfigured = fmt.Errorf("disk not configured")

// NotConfiguredError reports that name is absent from a Registry.
type NotConfiguredError struct {
	Name string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("disk %q is not configured", e.Name)
}

func (e *NotConfiguredError) Unwrap() error {
	return ErrNotConfigured
}
