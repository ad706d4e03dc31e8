package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalTiles is the number of dispatched tiles.
	TotalTiles int

	// Skipped is the number of tiles left out by the skip index.
	Skipped int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 5s
	UpdateInterval time.Duration

	// DataType is the data source being fetched (for display).
	DataType string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu              sync.Mutex
	downloadedBytes atomic.Int64
	completedTiles  atomic.Int32
	failedTiles     atomic.Int32
	inProgress      atomic.Int32
	startTime       time.Time
	lastUpdate      time.Time
	lastBytes       int64
	stopCh          chan struct{}
	doneCh          chan struct{}
	started         bool
	stopped         bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 5 * time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[demfetch] Fetching %s tiles: %d queued | %d skipped | Workers: %d\n",
		r.opts.DataType,
		r.opts.TotalTiles,
		r.opts.Skipped,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the progress reporter and prints the final status.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopCh)
	if started {
		<-r.doneCh
	}
}

// TileStarted marks a tile as in progress.
func (r *Reporter) TileStarted() {
	r.inProgress.Add(1)
}

// BytesDownloaded adds to the downloaded byte count.
func (r *Reporter) BytesDownloaded(n int64) {
	r.downloadedBytes.Add(n)
}

// TileCompleted marks a tile as done.
func (r *Reporter) TileCompleted() {
	r.completedTiles.Add(1)
	r.inProgress.Add(-1)
}

// TileFailed marks a tile as failed (removes from in-progress).
func (r *Reporter) TileFailed() {
	r.failedTiles.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	downloaded := r.downloadedBytes.Load()
	completed := int(r.completedTiles.Load())
	failed := int(r.failedTiles.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(downloaded-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = downloaded

	done := completed + failed
	var percent float64
	if r.opts.TotalTiles > 0 {
		percent = float64(done) / float64(r.opts.TotalTiles) * 100
	}

	eta := "calculating..."
	if done > 0 && done < r.opts.TotalTiles {
		perTile := now.Sub(r.startTime) / time.Duration(done)
		eta = formatDuration(perTile * time.Duration(r.opts.TotalTiles-done))
	}

	pending := r.opts.TotalTiles - done - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "[demfetch] Progress: %.1f%% | %d/%d tiles | %d failed | %d in-progress | %d pending | %s at %s/s | ETA: %s\n",
		percent,
		done,
		r.opts.TotalTiles,
		failed,
		inProgress,
		pending,
		formatBytes(downloaded),
		formatBytes(int64(speed)),
		eta,
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	downloaded := r.downloadedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(downloaded) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "[demfetch] Done: %d completed | %d failed | %d skipped\n",
		r.completedTiles.Load(),
		r.failedTiles.Load(),
		r.opts.Skipped,
	)
	fmt.Fprintf(r.opts.Output, "[demfetch] Total time: %s | Downloaded: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(downloaded),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// ParseBytes parses a human-readable byte string (e.g., "16MB" or "16MiB").
// Both spellings are binary multiples.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "iB"), "B")
	if strings.HasSuffix(s, "i") {
		s = s[:len(s)-1]
	}

	switch {
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%f", &value); err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * float64(multiplier)), nil
}
