package source

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// getter is a minimal Getter for tests.
type getter struct{}

func (getter) Get(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.New(resp.Status)
	}
	return resp.Body, nil
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"srtm", SRTM, false},
		{"SRTM", SRTM, false},
		{"Aster", ASTER, false},
		{"copernicus", Copernicus, false},
		{"nasadem", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrUnsupportedKind) {
			t.Errorf("ParseKind(%q) error = %v, want ErrUnsupportedKind", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTileKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"N00E006.SRTMGL1.hgt.zip", "N00E006"},
		{"https://host/path/ASTGTMV003_N00E006.zip", "ASTGTMV003_N00E006"},
		{"Copernicus_DSM_10_N00_00_E006_00.tar", "Copernicus_DSM_10_N00_00_E006_00"},
		{"noext", "noext"},
	}

	for _, tt := range tests {
		if got := TileKey(tt.input); got != tt.expected {
			t.Errorf("TileKey(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("https://host/a/T1.zip?token=x"); got != "T1.zip" {
		t.Errorf("FileName = %q, want T1.zip", got)
	}
}

func TestLinkSetDeduplicates(t *testing.T) {
	s := NewLinkSet("https://host/T1.zip", "https://host/T2.zip", "https://host/T1.zip", "")
	if s.Len() != 2 {
		t.Fatalf("expected 2 links, got %d", s.Len())
	}
	sorted := s.Sorted()
	if sorted[0] != "https://host/T1.zip" || sorted[1] != "https://host/T2.zip" {
		t.Errorf("unexpected order: %v", sorted)
	}
}

func TestSRTMIndex(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"dataFile":"N00E006.SRTMGL1.hgt.zip"}},
		{"type":"Feature","properties":{"dataFile":"N00E009.SRTMGL1.hgt.zip"}},
		{"type":"Feature","properties":{"dataFile":"N00E006.SRTMGL1.hgt.zip"}}
	]}`
	path := filepath.Join(t.TempDir(), "geo.json")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	e := &SRTMIndex{Path: path, BaseURL: "https://host/srtm/"}
	links, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if links.Len() != 2 {
		t.Fatalf("expected 2 links, got %d", links.Len())
	}
	if !links.Has("https://host/srtm/N00E009.SRTMGL1.hgt.zip") {
		t.Errorf("missing link, got %v", links.Sorted())
	}
}

func TestSRTMIndexUnavailable(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "bad.json")
	os.WriteFile(malformed, []byte("{not json"), 0644)
	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte(`{"features":[]}`), 0644)

	for _, path := range []string{filepath.Join(dir, "missing.json"), malformed, empty} {
		e := &SRTMIndex{Path: path, BaseURL: "https://host"}
		_, err := e.Enumerate(context.Background())
		var iue *IndexUnavailableError
		if !errors.As(err, &iue) {
			t.Errorf("%s: expected IndexUnavailableError, got %v", filepath.Base(path), err)
		}
	}
}

func TestASTERListing(t *testing.T) {
	listing := `<html><body>
<a href="../">Parent</a>
<a href="ASTGTMV003_N00E006.zip">ASTGTMV003_N00E006.zip</a>
<a href="ASTGTMV003_N00E009.ZIP">ASTGTMV003_N00E009.ZIP</a>
<a href="ASTGTMV003_N00E006.zip.xml">xml</a>
<a>no href</a>
</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, listing)
	}))
	defer server.Close()

	e := &ASTERListing{IndexURL: server.URL, BaseURL: "https://host/aster", Getter: getter{}}
	links, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if links.Len() != 2 {
		t.Fatalf("expected 2 links, got %v", links.Sorted())
	}
	if !links.Has("https://host/aster/ASTGTMV003_N00E009.ZIP") {
		t.Errorf("expected upper-case extension to match, got %v", links.Sorted())
	}
}

func TestASTERListingServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	e := &ASTERListing{IndexURL: server.URL, BaseURL: server.URL, Getter: getter{}}
	_, err := e.Enumerate(context.Background())
	var rie *RemoteIndexError
	if !errors.As(err, &rie) {
		t.Fatalf("expected RemoteIndexError, got %v", err)
	}
	if rie.URL != server.URL {
		t.Errorf("expected URL %s, got %s", server.URL, rie.URL)
	}
}

func TestCopernicusAPI(t *testing.T) {
	var gotPath, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		io.WriteString(w, `[
			{"nativeDemUrl":"https://host/Copernicus_DSM_10_N00_00_E006_00.tar"},
			{"nativeDemUrl":"https://host/Copernicus_DSM_10_N00_00_E009_00.tar"}
		]`)
	}))
	defer server.Close()

	e := &CopernicusAPI{APIURL: server.URL + "/publicDemURLs", Format: "DTED", Release: "2023_1", Getter: getter{}}
	links, err := e.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if gotPath != "/publicDemURLs/COP-DEM_GLO-30-DTED__2023_1" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAccept != "json" {
		t.Errorf("expected Accept json, got %q", gotAccept)
	}
	if links.Len() != 2 {
		t.Errorf("expected 2 links, got %d", links.Len())
	}
}

func TestCopernicusAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "2099_1") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, "<html>")
	}))
	defer server.Close()

	tests := []struct {
		name    string
		format  string
		release string
	}{
		{"status", "DTED", "2099_1"},
		{"bad json", "DTED", "2023_1"},
		{"bad format", "GEOTIFF", "2023_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &CopernicusAPI{APIURL: server.URL, Format: tt.format, Release: tt.release, Getter: getter{}}
			_, err := e.Enumerate(context.Background())
			var rie *RemoteIndexError
			if !errors.As(err, &rie) {
				t.Errorf("expected RemoteIndexError, got %v", err)
			}
		})
	}
}

func TestPolicyFor(t *testing.T) {
	if p := PolicyFor(SRTM); !p.FirstEntry() || p.Format != Zip {
		t.Errorf("SRTM policy: %+v", p)
	}
	if p := PolicyFor(ASTER); p.FirstEntry() || p.PayloadMarker != "_dem" || !p.PayloadIsGeoTIFF {
		t.Errorf("ASTER policy: %+v", p)
	}
	if p := PolicyFor(Copernicus); p.Format != Tar || !p.TrimOverlap || !p.CloudOptimized {
		t.Errorf("Copernicus policy: %+v", p)
	}
}

func TestPolicyWithCopernicusFormat(t *testing.T) {
	if p := PolicyFor(Copernicus).WithCopernicusFormat("DGED"); p.PayloadExt != ".tif" || !p.TrimOverlap {
		t.Errorf("DGED policy = %+v", p)
	}
	if p := PolicyFor(Copernicus).WithCopernicusFormat("DTED"); p.PayloadExt != ".dt2" {
		t.Errorf("DTED policy = %+v", p)
	}
	if p := PolicyFor(SRTM).WithCopernicusFormat("DGED"); p.PayloadExt != "" {
		t.Errorf("SRTM policy changed: %+v", p)
	}
}
