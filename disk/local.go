package disk

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
)

// LocalDisk is a Disk backed by a directory on the local filesystem. The
// cache never copies bytes for a LocalDisk object into its cache
// directory; it resolves a path in place via PathPrefix.
type LocalDisk struct {
	name   string
	prefix string
}

// NewLocalDisk returns a LocalDisk named name, rooted at prefix.
func NewLocalDisk(name, prefix string) *LocalDisk {
	return &LocalDisk{name: name, prefix: prefix}
}

var _ Disk = (*LocalDisk)(nil)

func (d *LocalDisk) Name() string       { return d.name }
func (d *LocalDisk) IsLocal() bool      { return true }
func (d *LocalDisk) PathPrefix() string { return d.prefix }

func (d *LocalDisk) objectPath(objectPath string) string {
	return filepath.Join(d.prefix, filepath.FromSlash(objectPath))
}

// OpenReadStream opens the object for reading. Most callers should prefer
// PathPrefix and read the file directly; this exists so LocalDisk still
// satisfies Disk. The cache itself resolves local objects by path and
// does not call it.
func (d *LocalDisk) OpenReadStream(_ context.Context, objectPath string) (io.ReadCloser, error) {
	f, err := os.Open(d.objectPath(objectPath))
	if os.IsNotExist(err) {
		return nil, os.ErrNotExist
	}
	return f, err
}

func (d *LocalDisk) Exists(_ context.Context, objectPath string) (bool, error) {
	_, err := os.Stat(d.objectPath(objectPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *LocalDisk) MimeType(_ context.Context, objectPath string) (string, error) {
	ext := filepath.Ext(objectPath)
	return mime.TypeByExtension(ext), nil
}

func (d *LocalDisk) Size(_ context.Context, objectPath string) (int64, error) {
	info, err := os.Stat(d.objectPath(objectPath))
	if err != nil {
		return -1, err
	}
	return info.Size(), nil
}
