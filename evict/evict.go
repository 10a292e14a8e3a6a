// Package evict implements the cache's eviction engine: a two-phase,
// age-then-size scan of the cache directory that never deletes an entry
// still pinned by a live retrieve.Pin.
package evict

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type entry struct {
	path  string
	size  int64
	atime time.Time
}

// Result reports what a Prune or Clear pass did.
type Result struct {
	Scanned   int
	Freed     int64
	Remaining int64
	Skipped   int // deletions refused because the entry was locked; Prune counts an entry refused in both phases twice
}

// DirSize totals the size of every regular file under root, walking
// subdirectories too. A
// missing root reports zero rather than an error, matching a cache that
// has never been populated.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	return total, err
}

func scan(root string) ([]entry, error) {
	entries := make([]entry, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, entry{path: path, size: info.Size(), atime: atime(info)})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// safeDelete removes path only if it can take a non-blocking exclusive
// lock on it first — a held shared lock (a live retrieve.Pin) or exclusive
// lock (an in-flight creator) means the entry is in use, and eviction
// must leave it alone rather than race a reader.
func safeDelete(path string) (deleted bool, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, 0, err
	}

	got, err := tryLockExclusive(f)
	if err != nil {
		return false, 0, err
	}
	if !got {
		return false, 0, nil
	}
	defer unlockFile(f)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, info.Size(), nil
}

// Prune runs the two-phase eviction pass: entries older than maxAge
// minutes are deleted outright, then if the cache is still over maxSize
// bytes the oldest remaining entries (by access time) are deleted until
// it fits. Either bound may be disabled by passing <= 0.
func Prune(root string, maxAgeMinutes int, maxSizeBytes int64) (Result, error) {
	entries, err := scan(root)
	if err != nil {
		return Result{}, err
	}

	result := Result{Scanned: len(entries)}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	result.Remaining = total

	kept := entries[:0:0]
	now := nowFunc()
	if maxAgeMinutes > 0 {
		cutoff := now.Add(-time.Duration(maxAgeMinutes) * time.Minute)
		for _, e := range entries {
			if e.atime.Before(cutoff) {
				deleted, size, err := safeDelete(e.path)
				if err != nil {
					return result, err
				}
				if deleted {
					result.Freed += size
					result.Remaining -= size
					continue
				}
				result.Skipped++
			}
			kept = append(kept, e)
		}
	} else {
		kept = entries
	}

	if maxSizeBytes > 0 && result.Remaining > maxSizeBytes {
		sort.Slice(kept, func(i, j int) bool {
			if kept[i].atime.Equal(kept[j].atime) {
				return kept[i].path < kept[j].path
			}
			return kept[i].atime.Before(kept[j].atime)
		})
		for _, e := range kept {
			if result.Remaining <= maxSizeBytes {
				break
			}
			deleted, size, err := safeDelete(e.path)
			if err != nil {
				return result, err
			}
			if !deleted {
				result.Skipped++
				continue
			}
			result.Freed += size
			result.Remaining -= size
		}
	}

	return result, nil
}

// Clear attempts to delete every entry in root regardless of age or
// size, skipping any that are currently pinned.
func Clear(root string) (Result, error) {
	entries, err := scan(root)
	if err != nil {
		return Result{}, err
	}
	result := Result{Scanned: len(entries)}
	for _, e := range entries {
		result.Remaining += e.size
	}
	for _, e := range entries {
		deleted, size, err := safeDelete(e.path)
		if err != nil {
			return result, err
		}
		if !deleted {
			result.Skipped++
			continue
		}
		result.Freed += size
		result.Remaining -= size
	}
	return result, nil
}

// nowFunc is the clock Prune measures age cutoffs against; it is a
// variable so a test can substitute a fixed time.
var nowFunc = time.Now
