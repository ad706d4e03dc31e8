// Package config defines configuration structures for the demfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (DEMFETCH_ prefix, optionally from a .env file)
//   - YAML configuration file
//
// Sources are layered in that order of precedence: Default, then
// LoadFromFile, then LoadFromEnv, then flags through Merge. Validate runs
// last.
//
// # Example
//
//	target: /data/copernicus
//	data_type: copernicus
//	workers: 8
//	ellipsoidal: true
//	skip_existing: true
//	stage_timeout: 20m
//	sources:
//	  copernicus_format: DGED
//	http:
//	  retry:
//	    attempts: 3
//	    backoff: 2s
package config
