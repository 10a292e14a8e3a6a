package filecache

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filecache/filecache/disk"
	"github.com/filecache/filecache/source"
)

// diskSources dispatches retrieve.Sources.Dispatch across the two kinds of
// URL a LogicalFile can carry: http(s) for remote reads, and
// <diskname>://<object path> for anything registered in disks.
type diskSources struct {
	remote *source.RemoteReader
	disks  *disk.Registry

	maxFileSize int64
	timeout     time.Duration
}

func (s *diskSources) Dispatch(ctx context.Context, rawURL string, w io.Writer) (string, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		err := s.remote.Fetch(ctx, rawURL, w, s.maxFileSize, s.timeout)
		return "", false, err
	case "":
		return "", false, fmt.Errorf("url %q has no scheme", rawURL)
	default:
		return s.dispatchDisk(ctx, u, w)
	}
}

func (s *diskSources) dispatchDisk(ctx context.Context, u *url.URL, w io.Writer) (string, bool, error) {
	d, err := s.disks.Resolve(u.Scheme)
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrUnknownDisk, err)
	}

	objectPath := strings.TrimPrefix(u.Host+u.Path, "/")

	if d.IsLocal() {
		resolved := filepath.Join(d.PathPrefix(), filepath.FromSlash(objectPath))
		exists, err := d.Exists(ctx, objectPath)
		if err != nil {
			return "", false, err
		}
		if !exists {
			return "", false, ErrNotFound
		}
		if s.maxFileSize >= 0 {
			size, err := d.Size(ctx, objectPath)
			if err != nil {
				return "", false, err
			}
			if size > s.maxFileSize {
				return "", false, ErrFileTooLarge
			}
		}
		return resolved, true, nil
	}

	rc, err := d.OpenReadStream(ctx, objectPath)
	if err != nil {
		return "", false, err
	}
	defer rc.Close()

	var written int64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := rc.Read(buf)
		if n > 0 {
			written += int64(n)
			if s.maxFileSize >= 0 && written >= s.maxFileSize {
				return "", false, ErrFileTooLarge
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return "", false, werr
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", false, readErr
		}
	}
	return "", false, nil
}

// Open returns a direct, non-pinning stream of url's bytes: a local-mount
// disk file is opened in place, a remote source is streamed through a
// pipe, and a non-local disk's own read stream is returned as is. None of
// these paths touches the cache directory.
func (s *diskSources) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(s.remote.Fetch(ctx, rawURL, pw, s.maxFileSize, s.timeout))
		}()
		return pr, nil
	case "":
		return nil, fmt.Errorf("url %q has no scheme", rawURL)
	default:
		d, err := s.disks.Resolve(u.Scheme)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownDisk, err)
		}
		objectPath := strings.TrimPrefix(u.Host+u.Path, "/")
		if d.IsLocal() {
			resolved := filepath.Join(d.PathPrefix(), filepath.FromSlash(objectPath))
			return os.Open(resolved)
		}
		return d.OpenReadStream(ctx, objectPath)
	}
}

// probe reports whether url exists and, when known cheaply, its MIME type
// and size, without downloading it.
func (s *diskSources) probe(ctx context.Context, rawURL string, timeout time.Duration) (exists bool, mimeType string, size int64, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, "", 0, fmt.Errorf("parse url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return s.remote.Probe(ctx, rawURL, timeout)
	case "":
		return false, "", 0, fmt.Errorf("url %q has no scheme", rawURL)
	default:
		d, err := s.disks.Resolve(u.Scheme)
		if err != nil {
			return false, "", 0, fmt.Errorf("%w: %w", ErrUnknownDisk, err)
		}
		objectPath := strings.TrimPrefix(u.Host+u.Path, "/")
		exists, err := d.Exists(ctx, objectPath)
		if err != nil || !exists {
			return false, "", 0, err
		}
		mimeType, _ = d.MimeType(ctx, objectPath)
		size, err = d.Size(ctx, objectPath)
		return true, mimeType, size, err
	}
}
