package oras_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	orascontent "oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/filecache/filecache/disk/oras"
)

// TestDiskFetchesPushedObject pushes a single-layer manifest directly
// against a disposable registry container, then verifies the oras disk
// driver resolves, sizes, and streams the same bytes back.
func TestDiskFetchesPushedObject(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "registry:2",
		ExposedPorts: []string{"5000/tcp"},
		WaitingFor:   wait.ForListeningPort("5000/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5000")
	require.NoError(t, err)
	reference := host + ":" + port.Port() + "/objects"

	pushRepo, err := remote.NewRepository(reference)
	require.NoError(t, err)
	pushRepo.PlainHTTP = true

	content := []byte("hello from the registry")
	pushObject(ctx, t, pushRepo, "reports/q1.csv", content)

	d, err := oras.New("objects", reference, oras.WithPlainHTTP())
	require.NoError(t, err)

	exists, err := d.Exists(ctx, "reports/q1.csv")
	require.NoError(t, err)
	require.True(t, exists)

	size, err := d.Size(ctx, "reports/q1.csv")
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), size)

	rc, err := d.OpenReadStream(ctx, "reports/q1.csv")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, content, got)

	missing, err := d.Exists(ctx, "reports/missing.csv")
	require.NoError(t, err)
	require.False(t, missing)
}

func pushObject(ctx context.Context, t *testing.T, repo *remote.Repository, objectPath string, content []byte) {
	t.Helper()

	layerDesc := ocispec.Descriptor{
		MediaType: "application/octet-stream",
		Digest:    orascontent.NewDescriptorFromBytes("application/octet-stream", content).Digest,
		Size:      int64(len(content)),
	}
	require.NoError(t, repo.Push(ctx, layerDesc, bytesReader(content)))

	// A registry validates that a manifest's referenced config blob
	// already exists; push the well-known empty-JSON config so this
	// single-layer manifest has something to point at.
	require.NoError(t, repo.Push(ctx, ocispec.DescriptorEmptyJSON, bytesReader(ocispec.DescriptorEmptyJSON.Data)))

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    ocispec.DescriptorEmptyJSON,
		Layers:    []ocispec.Descriptor{layerDesc},
	}
	manifestBytes, err := json.Marshal(manifest)
	require.NoError(t, err)
	manifestDesc := orascontent.NewDescriptorFromBytes(ocispec.MediaTypeImageManifest, manifestBytes)
	require.NoError(t, repo.Push(ctx, manifestDesc, bytesReader(manifestBytes)))
	require.NoError(t, repo.Tag(ctx, manifestDesc, tagForTest(objectPath)))
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func tagForTest(objectPath string) string {
	// Mirrors the production tag derivation in package oras; duplicated
	// here rather than exported, since callers of Disk never need it.
	return "fc-" + digest.FromString(objectPath).Encoded()
}
