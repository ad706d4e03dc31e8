// Package publish mirrors converted tiles into object storage.
//
// Any gocloud.dev/blob URL works:
//
//	s3://bucket?region=eu-west-1
//	gs://bucket
//	file:///srv/dem
//	mem://
//
// Objects are keyed by their path relative to the target directory, so the
// bucket ends up with the same geotiff/ and geotiff/ellipsoidal/ layout. An
// object that already exists with the same size is not uploaded again.
package publish
