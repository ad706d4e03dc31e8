package main

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	oldOut, oldErr := stdout, stderr
	stdout, stderr = &out, io.Discard
	t.Cleanup(func() { stdout, stderr = oldOut, oldErr })
	return &out
}

// captureErrors redirects stderr, where command errors are reported.
func captureErrors(t *testing.T) *bytes.Buffer {
	t.Helper()
	captureOutput(t)
	var errOut bytes.Buffer
	stderr = &errOut
	return &errOut
}

func writeIndex(t *testing.T, files ...string) string {
	t.Helper()
	var features []string
	for _, f := range files {
		features = append(features, fmt.Sprintf(`{"type":"Feature","properties":{"dataFile":%q}}`, f))
	}
	doc := `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
	path := filepath.Join(t.TempDir(), "index.geojson")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	return path
}

func zipBytes(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	w.Write([]byte("elevation"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestRunUsage(t *testing.T) {
	captureOutput(t)

	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("run() = %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"help"}); code != ExitSuccess {
		t.Errorf("run(help) = %d, want %d", code, ExitSuccess)
	}
	if code := run([]string{"frobnicate"}); code != ExitInvalidArgs {
		t.Errorf("run(frobnicate) = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchUnsupportedDataType(t *testing.T) {
	captureOutput(t)

	code := run([]string{"-dt", "lidar", "-t", t.TempDir()})
	if code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchMissingDataType(t *testing.T) {
	captureOutput(t)

	if code := run([]string{"fetch", "-t", t.TempDir()}); code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchBadFlag(t *testing.T) {
	captureOutput(t)

	if code := run([]string{"fetch", "-no-such-flag"}); code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
	}
}

func TestFetchMissingTarget(t *testing.T) {
	out := captureErrors(t)
	t.Setenv("DEMFETCH_TARGET", "")

	code := run([]string{"-dt", "aster"})
	if code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
	}
	if !strings.Contains(out.String(), "target is required") {
		t.Errorf("output = %q, want target error", out.String())
	}
}

func TestFetchSRTMWithoutCredentials(t *testing.T) {
	index := writeIndex(t, "N00E006.SRTMGL1.hgt.zip")
	t.Setenv("DEMFETCH_USERNAME", "")
	t.Setenv("DEMFETCH_PASSWORD", "")

	tests := []struct {
		name string
		args []string
	}{
		{"no credentials", nil},
		{"username only", []string{"-u", "earthdata"}},
		{"password only", []string{"-p", "hunter2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureErrors(t)
			target := t.TempDir()
			args := append([]string{"-dt", "srtm", "-srtm-index", index, "-t", target}, tt.args...)
			if code := run(args); code != ExitInvalidArgs {
				t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
			}
			if !strings.Contains(out.String(), "username and password") {
				t.Errorf("output = %q, want credentials error", out.String())
			}
		})
	}
}

func TestListSRTM(t *testing.T) {
	out := captureOutput(t)
	index := writeIndex(t, "N01E001.SRTMGL1.hgt.zip", "N00E000.SRTMGL1.hgt.zip")
	t.Setenv("DEMFETCH_SRTM_BASE_URL", "https://tiles.example.com/srtm")

	code := run([]string{"list", "-dt", "SRTM", "-srtm-index", index})
	if code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}

	want := "https://tiles.example.com/srtm/N00E000.SRTMGL1.hgt.zip\n" +
		"https://tiles.example.com/srtm/N01E001.SRTMGL1.hgt.zip\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestListMissingIndex(t *testing.T) {
	captureOutput(t)

	code := run([]string{"list", "-dt", "srtm", "-srtm-index", filepath.Join(t.TempDir(), "missing.geojson")})
	if code != ExitIndexError {
		t.Errorf("exit code = %d, want %d", code, ExitIndexError)
	}
}

func TestFetchRawAndUnpack(t *testing.T) {
	captureOutput(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := filepath.Base(r.URL.Path)
		if strings.HasPrefix(name, "MISSING") {
			http.NotFound(w, r)
			return
		}
		w.Write(zipBytes(t, strings.TrimSuffix(name, ".zip")))
	}))
	defer server.Close()

	t.Setenv("DEMFETCH_SRTM_BASE_URL", server.URL)
	t.Setenv("DEMFETCH_USERNAME", "earthdata")
	t.Setenv("DEMFETCH_PASSWORD", "hunter2")

	t.Run("raw", func(t *testing.T) {
		target := t.TempDir()
		index := writeIndex(t, "T1.hgt.zip", "T2.hgt.zip")

		code := run([]string{"-dt", "srtm", "-srtm-index", index, "-t", target, "-tc", "2"})
		if code != ExitSuccess {
			t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
		}
		for _, name := range []string{"T1.hgt.zip", "T2.hgt.zip"} {
			if _, err := os.Stat(filepath.Join(target, name)); err != nil {
				t.Errorf("missing %s: %v", name, err)
			}
		}
	})

	t.Run("unpack", func(t *testing.T) {
		target := t.TempDir()
		index := writeIndex(t, "T1.hgt.zip")

		code := run([]string{"fetch", "-data_type", "srtm", "-srtm-index", index, "-target", target, "-uz"})
		if code != ExitSuccess {
			t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
		}
		if _, err := os.Stat(filepath.Join(target, "T1.hgt")); err != nil {
			t.Errorf("missing payload: %v", err)
		}
		if _, err := os.Stat(filepath.Join(target, "T1.hgt.zip")); !os.IsNotExist(err) {
			t.Errorf("archive not removed: %v", err)
		}
	})

	t.Run("failed tile", func(t *testing.T) {
		target := t.TempDir()
		index := writeIndex(t, "T1.hgt.zip", "MISSING.hgt.zip")

		code := run([]string{"-dt", "srtm", "-srtm-index", index, "-t", target})
		if code != ExitJobsFailed {
			t.Fatalf("exit code = %d, want %d", code, ExitJobsFailed)
		}
		if _, err := os.Stat(filepath.Join(target, "T1.hgt.zip")); err != nil {
			t.Errorf("healthy tile missing: %v", err)
		}
	})

	t.Run("publish", func(t *testing.T) {
		target := t.TempDir()
		bucketDir := t.TempDir()
		index := writeIndex(t, "T1.hgt.zip")

		code := run([]string{"-dt", "srtm", "-srtm-index", index, "-t", target, "-bucket", "file://" + bucketDir})
		if code != ExitSuccess {
			t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
		}
		if _, err := os.Stat(filepath.Join(bucketDir, "T1.hgt.zip")); err != nil {
			t.Errorf("published archive missing: %v", err)
		}
		if _, err := os.Stat(filepath.Join(target, "T1.hgt.zip")); !os.IsNotExist(err) {
			t.Errorf("local archive kept without -keep-local: %v", err)
		}
	})
}
