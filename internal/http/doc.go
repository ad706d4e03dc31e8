// Package http provides the HTTP client used for tile downloads and upstream
// index documents.
//
// This package handles:
//   - Connection pooling for parallel workers
//   - The redirect-then-authenticate handshake of Earthdata style hosts
//   - Streaming large bodies to disk in fixed-size chunks
//   - Retry with exponential backoff for index documents
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	// Download a tile
//	n, err := client.Fetch(ctx, url, "/data/N00E006.SRTMGL1.hgt.zip", http.Credentials{
//	    Username: user,
//	    Password: pass,
//	})
//
//	// Fetch an index document
//	body, err := client.Get(ctx, indexURL, nil)
//	defer body.Close()
//
// Fetch never retries. A non-200 answer to the authenticated request is
// returned as a *DownloadError carrying the status and the start of the body.
package http
