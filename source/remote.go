// Package source implements RemoteReader, the HTTP(S) source reader.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// errOverflow is returned internally by limitedWriter once maxBytes have
// been written; Fetch translates it into ErrTooLarge.
var errOverflow = errors.New("source: max file size exceeded")

// ErrTooLarge is returned when the stream exceeds the configured
// max-file-size, or when an Exists probe's Content-Length does.
var ErrTooLarge = errors.New("source: file too large")

// ErrTimeout is returned when a read times out.
var ErrTimeout = errors.New("source: timeout")

// RemoteReader streams an HTTP(S) URL into a sink, honoring a byte ceiling,
// a read timeout, and an optional bind-IP override.
type RemoteReader struct {
	client *http.Client

	// BindIP, if non-empty, forces connections to the URL's host:port to
	// this IP, preserving the Host header.
	BindIP string
}

// Option configures a RemoteReader.
type Option func(*RemoteReader)

// WithClient overrides the HTTP client used for requests.
func WithClient(client *http.Client) Option {
	return func(r *RemoteReader) { r.client = client }
}

// WithBindIP forces connections to the URL's host:port onto the given IP,
// preserving the Host header.
func WithBindIP(ip string) Option {
	return func(r *RemoteReader) { r.BindIP = ip }
}

// New returns a RemoteReader that follows redirects by default.
func New(opts ...Option) *RemoteReader {
	r := &RemoteReader{
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// sanitize percent-encodes spaces in rawURL; no other character is
// altered, matching the conservative sanitation the protocol requires.
func sanitize(rawURL string) string {
	return strings.ReplaceAll(rawURL, " ", "%20")
}

// transportFor builds an http.Client bound to bindIP if set, else returns
// the reader's configured client unchanged.
func (r *RemoteReader) transportFor(rawURL string) (*http.Client, error) {
	if r.BindIP == "" {
		return r.client, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	bindAddr := net.JoinHostPort(r.BindIP, port)

	base := *r.client
	baseTransport, _ := base.Transport.(*http.Transport)
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if baseTransport != nil {
		transport = baseTransport.Clone()
	}
	transport.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: 30 * time.Second}
		return dialer.DialContext(ctx, network, bindAddr)
	}
	base.Transport = transport
	return &base, nil
}

// Fetch streams rawURL into sink. If the stream reaches maxBytes total
// bytes written, it fails with ErrTooLarge — this is a conservative
// overflow detector: a file of exactly maxBytes is rejected along with
// anything larger, since once the ceiling is reached there is no way to
// tell the two apart without reading further. timeout, if non-zero, is a
// single deadline for the whole request, from connecting through the last
// byte copied; it is not reset after each read. maxBytes < 0 disables the
// size check.
func (r *RemoteReader) Fetch(ctx context.Context, rawURL string, sink io.Writer, maxBytes int64, timeout time.Duration) error {
	client, err := r.transportFor(rawURL)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sanitize(rawURL), nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ErrTimeout
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("source: unexpected status %s", resp.Status)
	}

	var dst io.Writer = sink
	if maxBytes >= 0 {
		dst = &limitedWriter{w: sink, max: maxBytes}
	}

	_, err = io.Copy(dst, resp.Body)
	if err != nil {
		if errors.Is(err, errOverflow) {
			return ErrTooLarge
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ErrTimeout
		}
		return err
	}
	return nil
}

// Probe issues a HEAD request and reports existence, MIME type, and
// content length. A non-2xx status means the object does not exist.
func (r *RemoteReader) Probe(ctx context.Context, rawURL string, timeout time.Duration) (exists bool, mimeType string, size int64, err error) {
	client, err := r.transportFor(rawURL)
	if err != nil {
		return false, "", -1, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sanitize(rawURL), nil)
	if err != nil {
		return false, "", -1, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, "", -1, ErrTimeout
		}
		return false, "", -1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "", -1, nil
	}
	return true, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// limitedWriter forwards writes to w, failing with errOverflow as soon as
// total reaches max — reaching the ceiling, even exactly, is treated as
// overflow, since the stream can't be distinguished from one that keeps
// going without reading past it.
type limitedWriter struct {
	w     io.Writer
	max   int64
	total int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	lw.total += int64(len(p))
	if lw.total >= lw.max {
		return 0, errOverflow
	}
	return lw.w.Write(p)
}
