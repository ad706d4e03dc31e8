// Package raster converts DEM tile payloads with the GDAL command line tools.
//
// Two outputs exist. Plain runs gdal_translate into a GeoTIFF. Ellipsoidal
// runs gdalwarp from the EGM96 geoid to the WGS84 ellipsoid and writes
// <stem>_wgs84ellps<ext>. Copernicus tiles are first cut to a 3600x3600 window
// and warped into a Cloud Optimized GeoTIFF:
//
//	gdal_translate -srcwin 0 0 3600 3600 in.dt2 out.trim.tif
//	gdalwarp -s_srs "+proj=longlat +datum=WGS84 +geoidgrids=us_nga_egm96_15.tif +vunits=m +no_defs +type=crs" \
//	    -t_srs EPSG:4326 -of COG -co OVERVIEW_COUNT=7 -multi -wo NUM_THREADS=ALL_CPUS out.trim.tif out_wgs84ellps.tiff
//
// Tools run behind the Runner interface; a non-zero exit is a *ConversionError.
package raster
