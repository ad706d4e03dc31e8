// Package skipindex records which tiles already have an ellipsoidal output,
// so a resumed run can leave them out.
//
// The index is built once from a bucket listing, either a fileblob bucket
// over the local target directory or the publish bucket, and is read-only
// afterwards. It is safe for concurrent use.
package skipindex

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/demfetch/internal/raster"
	"github.com/ligustah/demfetch/internal/source"
)

// Prefix is the bucket prefix holding ellipsoidal outputs.
const Prefix = "geotiff/ellipsoidal/"

// Index is a set of tile keys with an existing output.
type Index struct {
	keys map[string]struct{}
}

// Build lists prefix in bucket and derives a tile key from every object.
func Build(ctx context.Context, bucket *blob.Bucket, prefix string, policy source.Policy) (Index, error) {
	idx := Index{keys: make(map[string]struct{})}

	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return Index{}, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		if k := KeyFromOutput(obj.Key, policy); k != "" {
			idx.keys[k] = struct{}{}
		}
	}
	return idx, nil
}

// KeyFromOutput maps an output name back to the key of the archive it came from.
//
//	N00E006_wgs84ellps.tiff                            -> N00E006
//	ASTGTMV003_N00E006_dem_wgs84ellps.tiff             -> ASTGTMV003_N00E006
//	Copernicus_DSM_10_N00_00_E006_00_DEM_wgs84ellps.tiff -> Copernicus_DSM_10_N00_00_E006_00
func KeyFromOutput(name string, policy source.Policy) string {
	key := source.TileKey(path.Base(name))
	key = strings.TrimSuffix(key, raster.EllipsoidalSuffix)
	return strings.TrimSuffix(key, policy.StemSuffix)
}

// Has reports whether the tile behind link already has an output.
func (i Index) Has(link string) bool {
	_, ok := i.keys[source.TileKey(source.FileName(link))]
	return ok
}

// Len returns the number of indexed tiles.
func (i Index) Len() int { return len(i.keys) }
