package filecache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/filecache/filecache/disk"
	"github.com/filecache/filecache/evict"
	"github.com/filecache/filecache/retrieve"
	"github.com/filecache/filecache/source"
)

// Cache mediates concurrent access to a directory of files retrieved from
// remote URLs or named storage disks. Every exported method is safe for
// concurrent use by multiple goroutines, and cooperates with other
// processes sharing the same Path through advisory file locks.
type Cache struct {
	cfg       *Config
	disks     *disk.Registry
	sources   *diskSources
	checkMime retrieve.CheckMime

	// probes collapses concurrent Exists/Stat calls for the same URL
	// within this process into a single source round trip.
	probes singleflight.Group
}

// New builds a Cache rooted at cfg.Path, dispatching disk-scheme URLs
// through registry. The directory is created if it does not exist.
func New(cfg *Config, registry *disk.Registry) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("filecache: nil config")
	}
	if registry == nil {
		registry = disk.NewRegistry()
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	remote := source.New(source.WithBindIP(cfg.BindIP))

	return &Cache{
		cfg:   cfg,
		disks: registry,
		sources: &diskSources{
			remote:      remote,
			disks:       registry,
			maxFileSize: cfg.MaxFileSize,
			timeout:     cfg.Timeout,
		},
		checkMime: mimeChecker(cfg),
	}, nil
}

// Get retrieves file, pins it for the duration of fn, and releases the
// pin unconditionally afterward, including when fn panics.
func (c *Cache) Get(ctx context.Context, file LogicalFile, fn func(path string) error) error {
	pin, err := c.retrieveFile(ctx, file)
	if err != nil {
		return err
	}
	defer pin.Release()
	return fn(pin.Path())
}

// GetOnce behaves like Get, but additionally attempts to delete the
// entry from the cache once fn returns, so a later call refetches it.
// The deletion is best-effort: an entry still pinned by another caller
// is left for ordinary eviction instead.
func (c *Cache) GetOnce(ctx context.Context, file LogicalFile, fn func(path string) error) error {
	pin, err := c.retrieveFile(ctx, file)
	if err != nil {
		return err
	}
	defer func() {
		_ = pin.DeleteOnRelease()
		_ = pin.Release()
	}()
	return fn(pin.Path())
}

// Batch retrieves every file in files, pins them all for the duration of
// fn, and releases them afterward in reverse acquisition order. If any
// retrieval fails, the pins already acquired are released before Batch
// returns the error.
func (c *Cache) Batch(ctx context.Context, files []LogicalFile, fn func(paths []string) error) error {
	pins := make([]*retrieve.Pin, 0, len(files))
	defer func() {
		for i := len(pins) - 1; i >= 0; i-- {
			_ = pins[i].Release()
		}
	}()

	paths := make([]string, 0, len(files))
	for _, file := range files {
		pin, err := c.retrieveFile(ctx, file)
		if err != nil {
			return err
		}
		pins = append(pins, pin)
		paths = append(paths, pin.Path())
	}

	return fn(paths)
}

// BatchOnce behaves like Batch, but deletes every entry (best-effort,
// same rules as GetOnce) once fn returns.
func (c *Cache) BatchOnce(ctx context.Context, files []LogicalFile, fn func(paths []string) error) error {
	pins := make([]*retrieve.Pin, 0, len(files))
	defer func() {
		for i := len(pins) - 1; i >= 0; i-- {
			_ = pins[i].DeleteOnRelease()
			_ = pins[i].Release()
		}
	}()

	paths := make([]string, 0, len(files))
	for _, file := range files {
		pin, err := c.retrieveFile(ctx, file)
		if err != nil {
			return err
		}
		pins = append(pins, pin)
		paths = append(paths, pin.Path())
	}

	return fn(paths)
}

// GetStream returns a direct, non-pinning read of file: if the entry is
// already cached, its local copy is opened and touched; otherwise the
// source is streamed straight through without populating the cache. The
// caller must Close the returned reader.
func (c *Cache) GetStream(ctx context.Context, file LogicalFile) (io.ReadCloser, error) {
	cachePath := PathFor(c.cfg.Path, file)
	f, err := os.Open(cachePath)
	if err == nil {
		now := time.Now()
		_ = os.Chtimes(cachePath, now, now)
		return f, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return c.sources.Open(ctx, file.URL())
}

// Exists reports whether file is already cached, or can be resolved at
// its source without fetching it. A probed source that would fail the
// same MIME or size policy a real fetch enforces is reported as
// ErrDisallowedMime or ErrFileTooLarge rather than as merely existing.
func (c *Cache) Exists(ctx context.Context, file LogicalFile) (bool, error) {
	cachePath := PathFor(c.cfg.Path, file)
	if _, err := os.Stat(cachePath); err == nil {
		return true, nil
	}

	v, err, _ := c.probes.Do(file.URL(), func() (interface{}, error) {
		exists, mimeType, size, err := c.sources.probe(ctx, file.URL(), c.cfg.Timeout)
		return probeResult{exists, mimeType, size}, err
	})
	if err != nil {
		return false, err
	}
	r := v.(probeResult)
	if !r.exists {
		return false, nil
	}
	if !c.cfg.allowsMime(r.mimeType) {
		return false, fmt.Errorf("%w: %s", ErrDisallowedMime, r.mimeType)
	}
	if c.cfg.MaxFileSize >= 0 && r.size > c.cfg.MaxFileSize {
		return false, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, r.size)
	}
	return true, nil
}

// Stat reports what is known about file without fetching it: whether it
// is already cached, and its source-reported MIME type and size.
type Stat struct {
	Exists   bool
	Cached   bool
	MimeType string
	Size     int64
}

// Stat resolves statistics for file, preferring the cached copy's own
// metadata when present. Unlike Exists, Stat reports what the source says
// even when it would fail the cache's MIME/size policy — it answers "what
// is this", not "can I fetch this".
func (c *Cache) Stat(ctx context.Context, file LogicalFile) (Stat, error) {
	cachePath := PathFor(c.cfg.Path, file)
	if info, err := os.Stat(cachePath); err == nil {
		return Stat{Exists: true, Cached: true, Size: info.Size()}, nil
	}

	v, err, _ := c.probes.Do(file.URL(), func() (interface{}, error) {
		exists, mimeType, size, err := c.sources.probe(ctx, file.URL(), c.cfg.Timeout)
		return probeResult{exists, mimeType, size}, err
	})
	if err != nil {
		return Stat{}, err
	}
	r := v.(probeResult)
	return Stat{Exists: r.exists, MimeType: r.mimeType, Size: r.size}, nil
}

// probeResult is the singleflight-shared shape of a source probe: cheap,
// immutable, and safe to hand to every caller collapsed onto the same
// in-flight request.
type probeResult struct {
	exists   bool
	mimeType string
	size     int64
}

// Prune runs one eviction pass over the cache directory: entries older
// than Config.MaxAge are deleted, then the oldest remaining entries are
// deleted until Config.MaxSize is satisfied. Entries still pinned by a
// live Get/Batch call are left alone.
func (c *Cache) Prune() (evict.Result, error) {
	return evict.Prune(c.cfg.Path, c.cfg.MaxAge, c.cfg.MaxSize)
}

// Clear deletes every unpinned entry in the cache directory regardless
// of age or size.
func (c *Cache) Clear() (evict.Result, error) {
	return evict.Clear(c.cfg.Path)
}

func (c *Cache) retrieveFile(ctx context.Context, file LogicalFile) (*retrieve.Pin, error) {
	if _, err := url.Parse(file.URL()); err != nil {
		return nil, fmt.Errorf("filecache: invalid url %q: %w", file.URL(), err)
	}
	cachePath := PathFor(c.cfg.Path, file)
	pin, err := retrieve.Retrieve(ctx, cachePath, file.URL(), c.sources, c.checkMime)
	if err != nil {
		return nil, FetchFailed(file.URL(), err)
	}
	return pin, nil
}
