package source

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrUnsupportedKind is returned by ParseKind for unknown data types.
var ErrUnsupportedKind = errors.New("source: unsupported data type")

// Kind identifies an upstream DEM data source.
type Kind int

const (
	// SRTM is NASA SRTMGL1 (1 arc-second), distributed as zipped .hgt tiles.
	SRTM Kind = iota + 1
	// ASTER is ASTER GDEM v3, distributed as zips with a _dem GeoTIFF layer.
	ASTER
	// Copernicus is Copernicus GLO-30, distributed as tars with a .dt2 layer.
	Copernicus
)

// ParseKind parses a data type name case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "srtm":
		return SRTM, nil
	case "aster":
		return ASTER, nil
	case "copernicus":
		return Copernicus, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

func (k Kind) String() string {
	switch k {
	case SRTM:
		return "srtm"
	case ASTER:
		return "aster"
	case Copernicus:
		return "copernicus"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ArchiveFormat is the container format of a downloaded tile.
type ArchiveFormat int

const (
	Zip ArchiveFormat = iota
	Tar
)

// Policy holds the per-kind rules for unpacking, converting and resuming.
// It is resolved once per run and never modified.
type Policy struct {
	Kind   Kind
	Format ArchiveFormat

	// PayloadMarker selects the archive entry by substring (ASTER).
	PayloadMarker string
	// PayloadExt selects the archive entry by extension (Copernicus).
	PayloadExt string

	// StemSuffix is the suffix the payload name carries beyond the tile key.
	// The skip index strips it to get back to the archive key.
	StemSuffix string

	// PayloadIsGeoTIFF means plain conversion is a move, not a translate.
	PayloadIsGeoTIFF bool

	// TrimOverlap means the source raster overlaps its neighbours by one
	// pixel and must be cut to the tile window before warping.
	TrimOverlap bool

	// CloudOptimized requests a COG for the ellipsoidal output.
	CloudOptimized bool
}

// FirstEntry reports whether the payload is the first archive entry.
func (p Policy) FirstEntry() bool {
	return p.PayloadMarker == "" && p.PayloadExt == ""
}

// PolicyFor returns the fixed policy of a kind.
func PolicyFor(k Kind) Policy {
	switch k {
	case SRTM:
		return Policy{Kind: SRTM, Format: Zip}
	case ASTER:
		return Policy{
			Kind:             ASTER,
			Format:           Zip,
			PayloadMarker:    "_dem",
			StemSuffix:       "_dem",
			PayloadIsGeoTIFF: true,
		}
	case Copernicus:
		return Policy{
			Kind:           Copernicus,
			Format:         Tar,
			PayloadExt:     ".dt2",
			StemSuffix:     "_DEM",
			TrimOverlap:    true,
			CloudOptimized: true,
		}
	default:
		return Policy{Kind: k}
	}
}

// WithCopernicusFormat adjusts a Copernicus policy to the distribution format.
// DGED tiles carry a GeoTIFF DEM layer instead of DTED level 2.
func (p Policy) WithCopernicusFormat(format string) Policy {
	if p.Kind == Copernicus && strings.EqualFold(format, "DGED") {
		p.PayloadExt = ".tif"
	}
	return p
}

// FileName returns the last path segment of a link, without query.
func FileName(link string) string {
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	return path.Base(link)
}

// TileKey returns the part of a file name before its first dot.
//
//	N00E006.SRTMGL1.hgt.zip -> N00E006
func TileKey(name string) string {
	name = path.Base(name)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
