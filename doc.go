// Package filecache mediates access to files identified by URLs whose
// physical backing may be a remote HTTP(S) endpoint, an object on a named
// non-local storage disk, or a file on a named local-disk mount.
//
// Callers ask to use a file by handing the cache a [LogicalFile] and a
// callback; the cache guarantees that while the callback runs, a local
// path to the file's bytes exists, is pinned against concurrent eviction,
// and is shared efficiently across processes that request the same file.
//
// Coordination across processes sharing the cache directory relies on
// advisory file locks on the cache entries themselves — no in-memory
// singleton or external service is required. See the retrieve package for
// the protocol.
package filecache
