package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ligustah/demfetch/internal/source"
)

// PayloadNotFoundError is returned when an archive has no entry matching the
// payload rule of its data source.
type PayloadNotFoundError struct {
	Archive string
	Want    string
}

func (e *PayloadNotFoundError) Error() string {
	return fmt.Sprintf("no %s entry in %s", e.Want, e.Archive)
}

// ErrUnsafePath is returned for entries whose name would escape the
// destination directory.
var ErrUnsafePath = errors.New("archive: unsafe entry path")

// Unpacker extracts tile payloads according to a source policy.
type Unpacker struct {
	Logger *slog.Logger
}

// Unpack extracts the single payload of archivePath into destDir and deletes
// the archive. It returns the payload path, which is destDir joined with the
// base name of the entry.
func (u *Unpacker) Unpack(archivePath, destDir string, policy source.Policy) (string, error) {
	var (
		payload string
		err     error
	)
	switch policy.Format {
	case source.Zip:
		payload, err = u.unzip(archivePath, destDir, policy)
	case source.Tar:
		payload, err = u.untar(archivePath, destDir, policy)
	default:
		return "", fmt.Errorf("archive: unknown format %d", policy.Format)
	}
	if err != nil {
		return "", err
	}

	if err := os.Remove(archivePath); err != nil {
		return payload, fmt.Errorf("remove archive: %w", err)
	}
	return payload, nil
}

// want describes the payload rule for error messages.
func want(policy source.Policy) string {
	switch {
	case policy.PayloadMarker != "":
		return fmt.Sprintf("*%s*", policy.PayloadMarker)
	case policy.PayloadExt != "":
		return "*" + policy.PayloadExt
	default:
		return "first"
	}
}

// match reports whether an entry name satisfies a marker or extension rule.
func match(name string, policy source.Policy) bool {
	switch {
	case policy.PayloadMarker != "":
		return strings.Contains(path.Base(name), policy.PayloadMarker)
	case policy.PayloadExt != "":
		return path.Ext(name) == policy.PayloadExt
	default:
		return true
	}
}

func (u *Unpacker) unzip(archivePath, destDir string, policy source.Policy) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("open zip %s: %w", archivePath, err)
	}
	defer zr.Close()

	var entry *zip.File
	if policy.FirstEntry() {
		if len(zr.File) == 0 {
			return "", &PayloadNotFoundError{Archive: archivePath, Want: want(policy)}
		}
		entry = zr.File[0]
		if len(zr.File) > 1 {
			u.logger().Warn("archive has several entries, taking the first",
				"archive", archivePath, "entries", len(zr.File), "entry", entry.Name)
		}
	} else {
		for _, f := range zr.File {
			if !f.FileInfo().IsDir() && match(f.Name, policy) {
				entry = f
				break
			}
		}
	}
	if entry == nil {
		return "", &PayloadNotFoundError{Archive: archivePath, Want: want(policy)}
	}

	dest, err := destPath(destDir, entry.Name)
	if err != nil {
		return "", err
	}

	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("open %s in %s: %w", entry.Name, archivePath, err)
	}
	defer rc.Close()

	if err := writeFile(rc, dest); err != nil {
		return "", fmt.Errorf("extract %s from %s: %w", entry.Name, archivePath, err)
	}
	return dest, nil
}

func (u *Unpacker) untar(archivePath, destDir string, policy source.Policy) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open tar %s: %w", archivePath, err)
	}
	defer f.Close()

	r, err := maybeGunzip(f)
	if err != nil {
		return "", fmt.Errorf("open tar %s: %w", archivePath, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", &PayloadNotFoundError{Archive: archivePath, Want: want(policy)}
		}
		if err != nil {
			return "", fmt.Errorf("read tar %s: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg || !match(hdr.Name, policy) {
			continue
		}

		dest, err := destPath(destDir, hdr.Name)
		if err != nil {
			return "", err
		}
		if err := writeFile(tr, dest); err != nil {
			return "", fmt.Errorf("extract %s from %s: %w", hdr.Name, archivePath, err)
		}
		return dest, nil
	}
}

// maybeGunzip wraps r in a gzip reader when the stream starts with the gzip magic.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

// destPath flattens an entry name into destDir.
func destPath(destDir, name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(destDir, base), nil
}

// writeFile copies r into dest through a partial file.
func writeFile(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

func (u *Unpacker) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}
