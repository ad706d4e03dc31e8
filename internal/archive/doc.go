// Package archive extracts the elevation payload from downloaded tile archives.
//
// Only one entry is extracted per archive, chosen by the data source policy:
//   - SRTM: the first zip entry, whatever its name
//   - ASTER: the first zip entry whose name contains _dem
//   - Copernicus: the first tar entry with extension .dt2 (plain or gzip tar)
//
// The entry is flattened into the destination directory under its base name
// and the archive is removed once extraction succeeds. A missing entry is a
// *PayloadNotFoundError.
package archive
