package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Upstream defaults.
const (
	DefaultSRTMIndex         = "geo.json"
	DefaultSRTMBaseURL       = "https://e4ftl01.cr.usgs.gov/MEASURES/SRTMGL1.003/2000.02.11"
	DefaultASTERIndexURL     = "https://e4ftl01.cr.usgs.gov/ASTT/ASTGTM.003/2000.03.01"
	DefaultASTERBaseURL      = "https://e4ftl01.cr.usgs.gov/ASTT/ASTGTM.003/2000.03.01"
	DefaultCopernicusAPIURL  = "https://prism-dem-open.copernicus.eu/pd-desk-open-access/publicDemURLs"
	DefaultCopernicusFormat  = "DTED"
	DefaultCopernicusRelease = "2023_1"
)

// Getter fetches a remote document. The http client in internal/http
// satisfies it.
type Getter interface {
	Get(ctx context.Context, url string, header http.Header) (io.ReadCloser, error)
}

// Enumerator lists the tiles available upstream.
type Enumerator interface {
	Enumerate(ctx context.Context) (LinkSet, error)
}

// EnumeratorConfig holds the upstream locations for all kinds.
type EnumeratorConfig struct {
	SRTMIndex         string
	SRTMBaseURL       string
	ASTERIndexURL     string
	ASTERBaseURL      string
	CopernicusAPIURL  string
	CopernicusFormat  string
	CopernicusRelease string
}

// DefaultEnumeratorConfig returns the public upstream locations.
func DefaultEnumeratorConfig() EnumeratorConfig {
	return EnumeratorConfig{
		SRTMIndex:         DefaultSRTMIndex,
		SRTMBaseURL:       DefaultSRTMBaseURL,
		ASTERIndexURL:     DefaultASTERIndexURL,
		ASTERBaseURL:      DefaultASTERBaseURL,
		CopernicusAPIURL:  DefaultCopernicusAPIURL,
		CopernicusFormat:  DefaultCopernicusFormat,
		CopernicusRelease: DefaultCopernicusRelease,
	}
}

// NewEnumerator returns the enumerator for kind.
func NewEnumerator(kind Kind, cfg EnumeratorConfig, getter Getter, logger *slog.Logger) (Enumerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case SRTM:
		return &SRTMIndex{Path: cfg.SRTMIndex, BaseURL: cfg.SRTMBaseURL, Logger: logger}, nil
	case ASTER:
		return &ASTERListing{IndexURL: cfg.ASTERIndexURL, BaseURL: cfg.ASTERBaseURL, Getter: getter, Logger: logger}, nil
	case Copernicus:
		return &CopernicusAPI{
			APIURL:  cfg.CopernicusAPIURL,
			Format:  cfg.CopernicusFormat,
			Release: cfg.CopernicusRelease,
			Getter:  getter,
			Logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKind, kind)
	}
}

// SRTMIndex reads a GeoJSON bounding-box index where each feature names
// its tile archive in properties.dataFile.
type SRTMIndex struct {
	Path    string
	BaseURL string
	Logger  *slog.Logger
}

type srtmIndexDoc struct {
	Features []struct {
		Properties struct {
			DataFile string `json:"dataFile"`
		} `json:"properties"`
	} `json:"features"`
}

// Enumerate implements Enumerator.
func (s *SRTMIndex) Enumerate(ctx context.Context) (LinkSet, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &IndexUnavailableError{Path: s.Path, Err: err}
	}

	var doc srtmIndexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &IndexUnavailableError{Path: s.Path, Err: fmt.Errorf("parse: %w", err)}
	}
	if len(doc.Features) == 0 {
		return nil, &IndexUnavailableError{Path: s.Path, Err: errors.New("no features")}
	}

	links := make(LinkSet, len(doc.Features))
	base := strings.TrimSuffix(s.BaseURL, "/")
	for _, f := range doc.Features {
		if f.Properties.DataFile == "" {
			continue
		}
		links.Add(base + "/" + f.Properties.DataFile)
	}
	s.logger().Info("read SRTM tile index", "path", s.Path, "links", links.Len())
	return links, nil
}

func (s *SRTMIndex) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// ASTERListing scrapes an HTML directory listing for zip archives.
type ASTERListing struct {
	IndexURL string
	BaseURL  string
	Getter   Getter
	Logger   *slog.Logger
}

// Enumerate implements Enumerator.
func (a *ASTERListing) Enumerate(ctx context.Context) (LinkSet, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("fetching ASTER links", "url", a.IndexURL)

	body, err := a.Getter.Get(ctx, a.IndexURL, nil)
	if err != nil {
		return nil, &RemoteIndexError{URL: a.IndexURL, Err: err}
	}
	defer body.Close()

	hrefs, err := anchorHrefs(body)
	if err != nil {
		return nil, &RemoteIndexError{URL: a.IndexURL, Err: fmt.Errorf("parse listing: %w", err)}
	}

	links := make(LinkSet)
	base := strings.TrimSuffix(a.BaseURL, "/")
	for _, href := range hrefs {
		if strings.HasSuffix(strings.ToLower(href), "zip") {
			links.Add(base + "/" + href)
		}
	}
	logger.Info("fetched ASTER links", "links", links.Len())
	return links, nil
}

// anchorHrefs returns the href of every <a> element in an HTML document.
func anchorHrefs(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					hrefs = append(hrefs, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}

// CopernicusAPI queries the public DEM URL endpoint for one format and release.
type CopernicusAPI struct {
	APIURL  string
	Format  string // DTED or DGED
	Release string // e.g. 2021_1, 2022_1, 2023_1
	Getter  Getter
	Logger  *slog.Logger
}

type copernicusEntry struct {
	NativeDemURL string `json:"nativeDemUrl"`
}

// URL returns the endpoint for the configured dataset.
func (c *CopernicusAPI) URL() string {
	return fmt.Sprintf("%s/COP-DEM_GLO-30-%s__%s", strings.TrimSuffix(c.APIURL, "/"), c.Format, c.Release)
}

// Enumerate implements Enumerator.
func (c *CopernicusAPI) Enumerate(ctx context.Context) (LinkSet, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	url := c.URL()

	switch c.Format {
	case "DTED", "DGED":
	default:
		return nil, &RemoteIndexError{URL: url, Err: fmt.Errorf("unknown format %q", c.Format)}
	}

	body, err := c.Getter.Get(ctx, url, http.Header{"Accept": []string{"json"}})
	if err != nil {
		return nil, &RemoteIndexError{URL: url, Err: err}
	}
	defer body.Close()

	var entries []copernicusEntry
	if err := json.NewDecoder(body).Decode(&entries); err != nil {
		return nil, &RemoteIndexError{URL: url, Err: fmt.Errorf("decode: %w", err)}
	}

	links := make(LinkSet, len(entries))
	for _, e := range entries {
		links.Add(e.NativeDemURL)
	}
	logger.Info("found Copernicus links", "url", url, "links", links.Len())
	return links, nil
}
