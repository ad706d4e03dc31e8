package pipeline

// Mode selects which stages run after a tile is downloaded.
type Mode int

const (
	// RawOnly keeps the downloaded archive.
	RawOnly Mode = iota
	// UnpackOnly extracts the payload and keeps it.
	UnpackOnly
	// ConvertPlain converts the payload to GeoTIFF.
	ConvertPlain
	// ConvertEllipsoidal reprojects the payload to ellipsoidal heights.
	ConvertEllipsoidal
	// ConvertBoth writes both the plain and the ellipsoidal GeoTIFF.
	ConvertBoth
)

// ResolveMode maps the unzip, convert and ellipsoidal flags to a Mode.
// Conversion implies unpacking; unzip alone only unpacks.
func ResolveMode(unzip, convert, ellipsoidal bool) Mode {
	switch {
	case convert && ellipsoidal:
		return ConvertBoth
	case ellipsoidal:
		return ConvertEllipsoidal
	case convert:
		return ConvertPlain
	case unzip:
		return UnpackOnly
	default:
		return RawOnly
	}
}

// Unpacks reports whether the archive is extracted.
func (m Mode) Unpacks() bool { return m != RawOnly }

// Converts reports whether any conversion runs.
func (m Mode) Converts() bool { return m == ConvertPlain || m == ConvertEllipsoidal || m == ConvertBoth }

// Plain reports whether the plain GeoTIFF is produced.
func (m Mode) Plain() bool { return m == ConvertPlain || m == ConvertBoth }

// Ellipsoidal reports whether the ellipsoidal GeoTIFF is produced.
func (m Mode) Ellipsoidal() bool { return m == ConvertEllipsoidal || m == ConvertBoth }

func (m Mode) String() string {
	switch m {
	case RawOnly:
		return "raw"
	case UnpackOnly:
		return "unpack"
	case ConvertPlain:
		return "plain"
	case ConvertEllipsoidal:
		return "ellipsoidal"
	case ConvertBoth:
		return "plain+ellipsoidal"
	default:
		return "unknown"
	}
}
