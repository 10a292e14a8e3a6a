package retrieve

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSources is a Sources that either writes a fixed body or fails,
// counting how many times Dispatch actually ran.
type fakeSources struct {
	body      string
	fail      error
	localPath string
	isLocal   bool
	calls     atomic.Int64
}

func (f *fakeSources) Dispatch(_ context.Context, _ string, w io.Writer) (string, bool, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return "", false, f.fail
	}
	if f.isLocal {
		return f.localPath, true, nil
	}
	_, err := w.Write([]byte(f.body))
	return "", false, err
}

func TestRetrieveCreatesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")
	src := &fakeSources{body: "payload"}

	pin, err := Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
	require.NoError(t, err)
	defer pin.Release()

	require.Equal(t, cachePath, pin.Path())
	require.Equal(t, int64(1), src.calls.Load())

	got, err := os.ReadFile(pin.Path())
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestRetrieveSingleFetchUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")
	src := &fakeSources{body: "payload"}

	const n = 8
	var wg sync.WaitGroup
	pins := make([]*Pin, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pins[i], errs[i] = Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, pins[i])
		defer pins[i].Release()
	}
	require.Equal(t, int64(1), src.calls.Load())
}

func TestRetrieveFetchFailureLeavesNoEntry(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")
	src := &fakeSources{fail: errTest{"boom"}}

	_, err := Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
	require.Error(t, err)

	_, statErr := os.Stat(cachePath)
	require.True(t, os.IsNotExist(statErr))
}

func TestRetrieveSucceedsAfterEarlierFetchFailure(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")

	// A first Retrieve whose Dispatch fails must leave nothing behind, so
	// a second Retrieve call lands back in the creator branch and fetches
	// afresh. The follower's own nlink==0 retry is covered by
	// TestFollowDetectsPlaceholderUnlinkedWhileOpen.
	src := &fakeSources{fail: errTest{"transient"}}
	_, err := Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
	require.Error(t, err)

	src.fail = nil
	src.body = "payload"
	pin, err := Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
	require.NoError(t, err)
	defer pin.Release()

	got, err := os.ReadFile(pin.Path())
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}

func TestRetrieveLocalDiskLeavesNoCacheRootFile(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")

	localDir := t.TempDir()
	localPath := filepath.Join(localDir, "object.bin")
	require.NoError(t, os.WriteFile(localPath, []byte("local bytes"), 0o644))

	src := &fakeSources{isLocal: true, localPath: localPath}
	pin, err := Retrieve(context.Background(), cachePath, "disk://mount/object.bin", src, nil)
	require.NoError(t, err)
	defer pin.Release()

	require.Equal(t, localPath, pin.Path())

	_, statErr := os.Stat(cachePath)
	require.True(t, os.IsNotExist(statErr))

	got, err := os.ReadFile(pin.Path())
	require.NoError(t, err)
	require.Equal(t, "local bytes", string(got))
}

func TestRetrieveExhaustsRetryBudget(t *testing.T) {
	// A follower that always finds a dead placeholder must give up after
	// maxRetries attempts rather than loop forever. A dangling symlink at
	// cachePath makes every attempt take that path: the O_EXCL create
	// reports it as existing, and the follower's Open finds nothing.
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing"), cachePath))

	src := &fakeSources{body: "payload"}
	retries := 0
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, retry, err := retrieveOnce(context.Background(), cachePath, "http://example/a", src, nil)
		require.NoError(t, err)
		if retry {
			retries++
		}
	}
	require.Equal(t, maxRetries, retries)

	_, err := Retrieve(context.Background(), cachePath, "http://example/a", src, nil)
	require.ErrorIs(t, err, ErrRepeatedFailure)
	require.Equal(t, int64(0), src.calls.Load())
}

// blockingSources is a Sources whose Dispatch waits on proceed before
// failing, so a test can hold a creator attempt open at a known point.
type blockingSources struct {
	proceed chan struct{}
	fail    error
}

func (b *blockingSources) Dispatch(_ context.Context, _ string, _ io.Writer) (string, bool, error) {
	<-b.proceed
	return "", false, b.fail
}

type followResult struct {
	pin   *Pin
	retry bool
	err   error
}

// TestFollowDetectsPlaceholderUnlinkedWhileOpen drives the literal
// writer-crash-recovery race: a follower opens the placeholder while it
// still has a live directory entry, then the creator's fetch fails and
// abortCreate unlinks that same placeholder while the follower's
// descriptor is still open on it. The follower must observe nlink==0 on
// its already-open fd and ask the caller to retry, rather than treating
// the entry as a live in-progress fetch.
func TestFollowDetectsPlaceholderUnlinkedWhileOpen(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "entry")

	proceed := make(chan struct{})
	src := &blockingSources{proceed: proceed, fail: errTest{"boom"}}

	creatorDone := make(chan error, 1)
	go func() {
		_, _, err := retrieveOnce(context.Background(), cachePath, "http://example/a", src, nil)
		creatorDone <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(cachePath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for creator to place the placeholder")
		}
		time.Sleep(time.Millisecond)
	}

	followerDone := make(chan followResult, 1)
	go func() {
		pin, retry, err := follow(cachePath, "http://example/a")
		followerDone <- followResult{pin, retry, err}
	}()

	// Give the follower time to open the placeholder (while it still has
	// a directory entry) and block acquiring the shared lock behind the
	// creator's exclusive one.
	time.Sleep(20 * time.Millisecond)

	close(proceed)
	require.Error(t, <-creatorDone)

	_, statErr := os.Stat(cachePath)
	require.True(t, os.IsNotExist(statErr))

	res := <-followerDone
	require.NoError(t, res.err)
	require.True(t, res.retry)
	require.Nil(t, res.pin)
}

func TestTouchUpdatesModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	touch(path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().After(old))
}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }
