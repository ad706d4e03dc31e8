package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// maxErrorBody caps how much of a failed response is kept in a DownloadError.
const maxErrorBody = 4 * 1024

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// HeaderTimeout bounds the wait for response headers. The body is not
	// bounded, tile archives can be hundreds of megabytes.
	// Default: 60s
	HeaderTimeout time.Duration

	// ChunkSize is the copy buffer used when streaming a body to disk.
	// Default: 16MiB
	ChunkSize int64

	// RetryAttempts is the maximum number of retry attempts for Get.
	// Fetch never retries.
	// Default: 0
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		HeaderTimeout:       60 * time.Second,
		ChunkSize:           16 * 1024 * 1024,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// Credentials are sent as HTTP basic auth on the final download request.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials are set.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// StatusError is returned for non-success status codes. It unwraps to one
// of the common errors where one applies.
type StatusError struct {
	StatusCode int
	err        error
}

func (e *StatusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%v (status %d)", e.err, e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.err }

// DownloadError is returned by Fetch when the authenticated request fails.
type DownloadError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: server responded with status code %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client is an HTTP client for tile downloads and index documents.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultOptions().ChunkSize
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
	}

	// Earthdata login hands out a session cookie on the redirect chain.
	jar, _ := cookiejar.New(nil)

	return &Client{
		client: &http.Client{Transport: transport, Jar: jar},
		opts:   opts,
	}
}

// Get performs a GET request, retrying server errors with backoff.
// The caller must close the returned body.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, v := range header {
			req.Header[k] = v
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, err: ErrServerError}
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp.Body, nil
	}

	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// Fetch downloads url into dest.
//
// Some hosts redirect to an authentication endpoint which only accepts
// credentials at the terminal URL. Fetch first probes url without
// credentials; if that was redirected, the final URL is requested again with
// basic auth, otherwise url itself is. The body is streamed to a partial file
// next to dest and renamed once complete.
func (c *Client) Fetch(ctx context.Context, url, dest string, creds Credentials) (int64, error) {
	finalURL, err := c.resolve(ctx, url)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if !creds.IsZero() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", finalURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &DownloadError{URL: finalURL, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return c.writeFile(resp.Body, dest)
}

// resolve returns the URL a redirect chain starting at url ends on.
func (c *Client) resolve(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", url, err)
	}
	resp.Body.Close()

	// Request.Response is only set on requests created by a redirect.
	if resp.Request != nil && resp.Request.Response != nil {
		return resp.Request.URL.String(), nil
	}
	return url, nil
}

// writeFile streams r into dest through a uniquely named partial file.
func (c *Client) writeFile(r io.Reader, dest string) (int64, error) {
	part := dest + "." + uuid.NewString() + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	// Hide ReadFrom so the copy goes through buf in ChunkSize pieces.
	buf := make([]byte, c.opts.ChunkSize)
	n, err := io.CopyBuffer(struct{ io.Writer }{f}, r, buf)
	if err != nil {
		f.Close()
		os.Remove(part)
		return n, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("rename %s: %w", dest, err)
	}
	return n, nil
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return &StatusError{StatusCode: code, err: ErrNotFound}
	case code == http.StatusForbidden:
		return &StatusError{StatusCode: code, err: ErrForbidden}
	case code == http.StatusUnauthorized:
		return &StatusError{StatusCode: code, err: ErrUnauthorized}
	default:
		return &StatusError{StatusCode: code}
	}
}
