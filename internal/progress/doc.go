// Package progress provides progress reporting for tile batches.
//
// This package outputs human-readable progress information to stderr,
// including tile counts, download speed, and ETA.
//
// # Usage
//
//	reporter := progress.NewReporter(Options{
//	    TotalTiles: batch.Total,
//	    Skipped:    batch.Skipped,
//	    Workers:    workers,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as tiles complete
//	reporter.TileStarted()
//	reporter.BytesDownloaded(n)
//	reporter.TileCompleted()
//
// # Output Format
//
//	[demfetch] Fetching srtm tiles: 14295 queued | 12 skipped | Workers: 4
//	[demfetch] Progress: 45.2% | 6461/14295 tiles | 3 failed | 4 in-progress | 7830 pending | 81.20 GB at 42.10 MB/s | ETA: 3h 2m 10s
//	[demfetch] Done: 14280 completed | 15 failed | 12 skipped
package progress
