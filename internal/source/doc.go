// Package source describes the upstream DEM data sources and lists their tiles.
//
// A [Kind] selects one of three sources. [PolicyFor] resolves the per-kind
// rules that the rest of the pipeline follows:
//
//	Kind        Archive  Payload              Ellipsoidal output
//	srtm        zip      first entry          GeoTIFF
//	aster       zip      name contains _dem   GeoTIFF
//	copernicus  tar      extension .dt2       trimmed COG
//
// # Enumeration
//
// Each kind has an [Enumerator]:
//   - [SRTMIndex] reads a local GeoJSON bounding-box index
//   - [ASTERListing] scrapes the HTML directory listing
//   - [CopernicusAPI] queries the public DEM URL endpoint
//
// Enumerators do not retry. A failure is reported as [*IndexUnavailableError]
// or [*RemoteIndexError] and aborts the run.
package source
