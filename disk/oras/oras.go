// Package oras provides a disk.Disk backed by a repository in an OCI
// registry, reached via oras-go. Each object on the disk is addressed by a
// tag derived from its object path, and its bytes are the sole layer of a
// single-layer OCI manifest pushed under that tag.
package oras

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/filecache/filecache/disk"
)

// Disk is a disk.Disk backed by an OCI registry repository.
type Disk struct {
	name string
	repo *remote.Repository
}

var _ disk.Disk = (*Disk)(nil)

// Option configures a Disk.
type Option func(*Disk)

// WithCredentials configures static username/password credentials for the
// registry hosting the repository.
func WithCredentials(registryHost, username, password string) Option {
	return func(d *Disk) {
		d.repo.Client = &auth.Client{
			Client: retry.DefaultClient,
			Cache:  auth.NewCache(),
			Credential: auth.StaticCredential(registryHost, auth.Credential{
				Username: username,
				Password: password,
			}),
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client used to talk to the
// registry, bypassing the retrying, authenticating default.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Disk) {
		d.repo.Client = client
	}
}

// WithPlainHTTP disables TLS when talking to the registry. Intended for
// tests against a local registry container.
func WithPlainHTTP() Option {
	return func(d *Disk) {
		d.repo.PlainHTTP = true
	}
}

// New returns a Disk named name, backed by the repository reference (e.g.
// "registry.example.com/my-objects").
func New(name, reference string, opts ...Option) (*Disk, error) {
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, fmt.Errorf("disk %q: %w", name, err)
	}
	d := &Disk{name: name, repo: repo}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Disk) Name() string       { return d.name }
func (d *Disk) IsLocal() bool      { return false }
func (d *Disk) PathPrefix() string { return "" }

// tagFor derives a registry-legal tag from an arbitrary object path: the
// path may contain slashes, which are not legal tag characters.
func tagFor(objectPath string) string {
	return "fc-" + digest.FromString(objectPath).Encoded()
}

// layerDescriptor resolves objectPath to its manifest, then returns the
// descriptor of the manifest's sole layer, which holds the object bytes.
func (d *Disk) layerDescriptor(ctx context.Context, objectPath string) (ocispec.Descriptor, error) {
	manifestDesc, err := d.repo.Resolve(ctx, tagFor(objectPath))
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifestBytes, err := content.FetchAll(ctx, d.repo, manifestDesc)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	var manifest ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("disk %q: decode manifest for %q: %w", d.name, objectPath, err)
	}
	if len(manifest.Layers) == 0 {
		return ocispec.Descriptor{}, fmt.Errorf("disk %q: object %q has no layers", d.name, objectPath)
	}
	return manifest.Layers[0], nil
}

func (d *Disk) OpenReadStream(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	layer, err := d.layerDescriptor(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	return d.repo.Fetch(ctx, layer)
}

func (d *Disk) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := d.repo.Resolve(ctx, tagFor(objectPath))
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Disk) MimeType(ctx context.Context, objectPath string) (string, error) {
	layer, err := d.layerDescriptor(ctx, objectPath)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return layer.MediaType, nil
}

func (d *Disk) Size(ctx context.Context, objectPath string) (int64, error) {
	layer, err := d.layerDescriptor(ctx, objectPath)
	if err != nil {
		return -1, err
	}
	return layer.Size, nil
}
