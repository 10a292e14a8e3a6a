package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// KeyFor returns the cache entry filename for url: lowercase hex sha256.
//
// The legacy variant that keyed on a file's own identifier rather than its
// URL is superseded; KeyFor depends only on the URL, so equal URLs always
// produce equal keys regardless of which LogicalFile carried them.
func KeyFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// PathFor returns the absolute path of the cache entry for file under root.
func PathFor(root string, file LogicalFile) string {
	return filepath.Join(root, KeyFor(file.URL()))
}
