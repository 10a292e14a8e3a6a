//go:build !linux && !darwin

package evict

import (
	"io/fs"
	"time"
)

// atime falls back to mtime on platforms without a cheap stat-based
// access time (or where it's mounted noatime-equivalent by default).
func atime(info fs.FileInfo) time.Time {
	return info.ModTime()
}
