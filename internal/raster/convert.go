package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/demfetch/internal/source"
)

// EllipsoidalSuffix marks outputs referenced to the WGS84 ellipsoid. The skip
// index keys on it.
const EllipsoidalSuffix = "_wgs84ellps"

// Defaults for the GDAL invocation.
const (
	DefaultTranslate  = "gdal_translate"
	DefaultWarp       = "gdalwarp"
	DefaultGeoidGrid  = "us_nga_egm96_15.tif"
	DefaultTrimWindow = 3600
	DefaultOverviews  = 7
)

// ConversionError is returned when an external tool exits unsuccessfully.
type ConversionError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s failed (exit %d): %v: %s", e.Tool, e.ExitCode, e.Err, e.Stderr)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Runner runs an external tool to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// DefaultWaitDelay is how long a killed tool may keep its output pipes open.
const DefaultWaitDelay = 5 * time.Second

// ExecRunner runs tools as subprocesses.
type ExecRunner struct {
	// WaitDelay bounds the wait for output after the context is done.
	// Default: DefaultWaitDelay
	WaitDelay time.Duration
}

// Run implements Runner. A non-zero exit is a *ConversionError. When ctx
// ended the run, the error also matches ctx.Err().
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Join(err, ctxErr)
		}
		return &ConversionError{
			Tool:     name,
			Args:     args,
			ExitCode: code,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return nil
}

// Converter turns tile payloads into GeoTIFFs with GDAL.
type Converter struct {
	Runner    Runner
	Translate string
	Warp      string
	GeoidGrid string

	// TrimWindow is the tile width in pixels kept from overlapping sources.
	TrimWindow int
	// Overviews is the COG overview count.
	Overviews int

	Logger *slog.Logger
}

// NewConverter returns a converter running the default GDAL tools.
func NewConverter(logger *slog.Logger) *Converter {
	return &Converter{
		Runner:     ExecRunner{},
		Translate:  DefaultTranslate,
		Warp:       DefaultWarp,
		GeoidGrid:  DefaultGeoidGrid,
		TrimWindow: DefaultTrimWindow,
		Overviews:  DefaultOverviews,
		Logger:     logger,
	}
}

// EllipsoidalName returns path with EllipsoidalSuffix added to its stem.
func EllipsoidalName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + EllipsoidalSuffix + ext
}

// SourceSRS is the geoid-referenced CRS of the tile heights.
func (c *Converter) SourceSRS() string {
	return "+proj=longlat +datum=WGS84 +geoidgrids=" + c.GeoidGrid + " +vunits=m +no_defs +type=crs"
}

// Plain converts in to a GeoTIFF at out without reprojection.
// Payloads that already are GeoTIFFs are moved.
func (c *Converter) Plain(ctx context.Context, in, out string, policy source.Policy) (string, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}

	if policy.PayloadIsGeoTIFF {
		if in == out {
			return out, nil
		}
		if err := os.Rename(in, out); err != nil {
			return "", fmt.Errorf("move %s: %w", in, err)
		}
		return out, nil
	}

	c.logger().Info("converting", "input", in, "output", out)
	args := c.translateArgs(in, out, policy.TrimOverlap)
	if err := c.Runner.Run(ctx, c.Translate, args...); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

// Ellipsoidal reprojects in from geoid heights to ellipsoidal heights. The
// result is written to EllipsoidalName(out), which is returned.
func (c *Converter) Ellipsoidal(ctx context.Context, in, out string, policy source.Policy) (string, error) {
	out = EllipsoidalName(out)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}

	src := in
	if policy.TrimOverlap {
		// Neighbouring tiles share their edge row and column. The cut copy
		// stays next to the input so it never shows up in the output listing.
		trimmed := strings.TrimSuffix(in, filepath.Ext(in)) + ".trim.tif"
		if err := c.Runner.Run(ctx, c.Translate, c.translateArgs(in, trimmed, true)...); err != nil {
			os.Remove(trimmed)
			return "", err
		}
		defer os.Remove(trimmed)
		src = trimmed
	}

	c.logger().Info("converting", "input", in, "output", out)
	if err := c.Runner.Run(ctx, c.Warp, c.warpArgs(src, out, policy.CloudOptimized)...); err != nil {
		// A partial output would be taken as converted on the next resume.
		os.Remove(out)
		return "", err
	}
	return out, nil
}

func (c *Converter) translateArgs(in, out string, trim bool) []string {
	var args []string
	if trim {
		w := strconv.Itoa(c.TrimWindow)
		args = append(args, "-srcwin", "0", "0", w, w)
	}
	return append(args, in, out)
}

func (c *Converter) warpArgs(in, out string, cog bool) []string {
	args := []string{
		"-s_srs", c.SourceSRS(),
		"-t_srs", "EPSG:4326",
	}
	if cog {
		args = append(args,
			"-of", "COG",
			"-co", fmt.Sprintf("OVERVIEW_COUNT=%d", c.Overviews),
			"-multi",
			"-wo", "NUM_THREADS=ALL_CPUS",
		)
	}
	return append(args, in, out)
}

func (c *Converter) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
