package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"
)

// Options configures a Publisher.
type Options struct {
	// Root is the local directory keys are made relative to.
	Root string

	// KeepLocal keeps the local file after a successful upload.
	KeepLocal bool

	// Parallel is the number of concurrent uploads per call.
	// Default: 2
	Parallel int

	Logger *slog.Logger
}

// Publisher mirrors converted artifacts into a bucket.
type Publisher struct {
	bucket *blob.Bucket
	opts   Options
}

// Open opens the bucket at url (s3://, gs://, file://, mem://).
func Open(ctx context.Context, url string, opts Options) (*Publisher, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return New(bucket, opts), nil
}

// New wraps an open bucket.
func New(bucket *blob.Bucket, opts Options) *Publisher {
	if opts.Parallel <= 0 {
		opts.Parallel = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Publisher{bucket: bucket, opts: opts}
}

// Bucket returns the underlying bucket.
func (p *Publisher) Bucket() *blob.Bucket { return p.bucket }

// Close closes the bucket.
func (p *Publisher) Close() error { return p.bucket.Close() }

// Key returns the object key for a local path below Root.
func (p *Publisher) Key(path string) (string, error) {
	rel, err := filepath.Rel(p.opts.Root, path)
	if err != nil {
		return "", fmt.Errorf("key for %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key for %s: outside %s", path, p.opts.Root)
	}
	return filepath.ToSlash(rel), nil
}

// Publish uploads paths and returns their keys in the same order.
func (p *Publisher) Publish(ctx context.Context, paths []string) ([]string, error) {
	keys := make([]string, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallel)

	for i, path := range paths {
		g.Go(func() error {
			key, err := p.Key(path)
			if err != nil {
				return err
			}
			if err := p.upload(ctx, path, key); err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if !p.opts.KeepLocal {
		for _, path := range paths {
			if err := os.Remove(path); err != nil {
				p.opts.Logger.Warn("failed to remove published file", "path", path, "error", err)
			}
		}
	}
	return keys, nil
}

func (p *Publisher) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	attrs, err := p.bucket.Attributes(ctx, key)
	switch {
	case err == nil && attrs.Size == info.Size():
		p.opts.Logger.Info("already published", "key", key)
		return nil
	case err != nil && gcerrors.Code(err) != gcerrors.NotFound:
		return fmt.Errorf("stat object %s: %w", key, err)
	}

	w, err := p.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create object %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close object %s: %w", key, err)
	}

	p.opts.Logger.Info("published", "key", key, "bytes", info.Size())
	return nil
}
