package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	demhttp "github.com/ligustah/demfetch/internal/http"
	"github.com/ligustah/demfetch/internal/skipindex"
	"github.com/ligustah/demfetch/internal/source"
)

// Output directories below the target.
const (
	GeoTIFFDir     = "geotiff"
	EllipsoidalDir = "geotiff/ellipsoidal"
)

// Stage is a step of a job's pipeline.
type Stage string

const (
	StagePending    Stage = "pending"
	StageFetching   Stage = "fetching"
	StageUnpacking  Stage = "unpacking"
	StageConverting Stage = "converting"
	StagePublishing Stage = "publishing"
	StageDone       Stage = "done"
)

// Fetcher downloads a link to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string, creds demhttp.Credentials) (int64, error)
}

// Unpacker extracts the payload of an archive and removes the archive.
type Unpacker interface {
	Unpack(archivePath, destDir string, policy source.Policy) (string, error)
}

// Converter produces GeoTIFF outputs from a payload.
type Converter interface {
	Plain(ctx context.Context, in, out string, policy source.Policy) (string, error)
	Ellipsoidal(ctx context.Context, in, out string, policy source.Policy) (string, error)
}

// Publisher copies finished artifacts elsewhere.
type Publisher interface {
	Publish(ctx context.Context, paths []string) ([]string, error)
}

// Progress receives per-tile notifications. *progress.Reporter implements it.
type Progress interface {
	TileStarted()
	BytesDownloaded(n int64)
	TileCompleted()
	TileFailed()
}

// Stages are the collaborators a job runs through. Unpacker and Converter
// may be nil when the mode does not need them; Publisher is optional.
type Stages struct {
	Fetcher   Fetcher
	Unpacker  Unpacker
	Converter Converter
	Publisher Publisher
}

// Options configures the orchestrator.
type Options struct {
	// Target is the local root directory.
	Target string

	// Policy is the data source policy for every job.
	Policy source.Policy

	// Mode selects the stages after fetching.
	Mode Mode

	// Workers is the number of parallel jobs.
	// Default: 1
	Workers int

	// Credentials are passed to the fetcher.
	Credentials demhttp.Credentials

	// SkipExisting leaves out tiles that already have an ellipsoidal output.
	SkipExisting bool

	// SkipBucket is listed to build the skip index. When nil a file bucket
	// over Target is used.
	SkipBucket *blob.Bucket

	// StageTimeout bounds each stage of a job. Zero means no limit.
	StageTimeout time.Duration

	Logger *slog.Logger
}

// Job is one tile to process. Index and Total are for display only.
type Job struct {
	Link  string
	Name  string
	Index int
	Total int
}

// Outcome is the result of one job.
type Outcome struct {
	Job       Job
	Stage     Stage
	Artifacts []string
	Err       error
	Retryable bool
}

// OK reports whether the job finished.
func (o Outcome) OK() bool { return o.Err == nil && o.Stage == StageDone }

// StageError wraps the error that ended a job.
type StageError struct {
	Stage Stage
	Link  string
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Stage, e.Link, e.Path, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Summary aggregates the outcomes of a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Retryable int
	Skipped   int
}

// Plan is the set of jobs left after applying the skip index.
type Plan struct {
	Jobs    []Job
	Skipped []string
}

// Batch is a running set of jobs.
type Batch struct {
	Total   int
	Skipped int

	outcomes chan Outcome
	done     chan struct{}

	mu      sync.Mutex
	summary Summary
}

// Outcomes streams job outcomes as they finish. The channel is buffered for
// the whole batch and closed when every job has ended; reading it is optional.
func (b *Batch) Outcomes() <-chan Outcome { return b.outcomes }

// Wait blocks until every job has ended and returns the summary.
func (b *Batch) Wait() Summary {
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary
}

func (b *Batch) record(o Outcome) {
	b.mu.Lock()
	if o.OK() {
		b.summary.Succeeded++
	} else {
		b.summary.Failed++
		if o.Retryable {
			b.summary.Retryable++
		}
	}
	b.mu.Unlock()
	b.outcomes <- o
}

// Orchestrator runs tile jobs on a fixed pool of workers.
type Orchestrator struct {
	opts   Options
	stages Stages
	logger *slog.Logger
}

// New creates an orchestrator.
func New(opts Options, stages Stages) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{opts: opts, stages: stages, logger: logger}
}

// Run plans and executes links. It fails only when the skip index cannot be built.
func (o *Orchestrator) Run(ctx context.Context, links source.LinkSet) (*Batch, error) {
	plan, err := o.Plan(ctx, links)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan, nil), nil
}

// Plan turns links into jobs, leaving out tiles the skip index already has.
func (o *Orchestrator) Plan(ctx context.Context, links source.LinkSet) (*Plan, error) {
	if o.opts.Mode.Ellipsoidal() || o.opts.SkipExisting {
		if err := os.MkdirAll(filepath.Join(o.opts.Target, filepath.FromSlash(EllipsoidalDir)), 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	var idx skipindex.Index
	if o.opts.SkipExisting {
		var err error
		idx, err = o.buildSkipIndex(ctx)
		if err != nil {
			return nil, err
		}
		o.logger.Info("built skip index", "tiles", idx.Len())
	}

	plan := &Plan{}
	for _, link := range links.Sorted() {
		name := source.FileName(link)
		if idx.Has(link) {
			o.logger.Info("skipping", "file", name)
			plan.Skipped = append(plan.Skipped, link)
			continue
		}
		plan.Jobs = append(plan.Jobs, Job{Link: link, Name: name})
	}
	for i := range plan.Jobs {
		plan.Jobs[i].Index = i + 1
		plan.Jobs[i].Total = len(plan.Jobs)
	}
	return plan, nil
}

func (o *Orchestrator) buildSkipIndex(ctx context.Context) (skipindex.Index, error) {
	bucket := o.opts.SkipBucket
	if bucket == nil {
		b, err := fileblob.OpenBucket(o.opts.Target, nil)
		if err != nil {
			return skipindex.Index{}, fmt.Errorf("open target: %w", err)
		}
		defer b.Close()
		bucket = b
	}
	return skipindex.Build(ctx, bucket, skipindex.Prefix, o.opts.Policy)
}

// Execute dispatches the plan's jobs and returns immediately. progress may be nil.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, progress Progress) *Batch {
	b := &Batch{
		Total:    len(plan.Jobs),
		Skipped:  len(plan.Skipped),
		outcomes: make(chan Outcome, len(plan.Jobs)),
		done:     make(chan struct{}),
	}
	b.summary.Total = b.Total
	b.summary.Skipped = b.Skipped

	if progress == nil {
		progress = nopProgress{}
	}

	jobs := make(chan Job, o.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				b.record(o.process(ctx, job, progress))
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, job := range plan.Jobs {
			jobs <- job
		}
	}()

	go func() {
		wg.Wait()
		close(b.outcomes)
		close(b.done)
	}()

	return b
}

// stageContext bounds a stage with StageTimeout.
func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.StageTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.StageTimeout)
	}
	return context.WithCancel(ctx)
}

// process runs one job through its stages.
func (o *Orchestrator) process(ctx context.Context, job Job, progress Progress) Outcome {
	logger := o.logger.With("link", job.Link, "job", fmt.Sprintf("%d/%d", job.Index, job.Total))
	policy := o.opts.Policy
	mode := o.opts.Mode
	archivePath := filepath.Join(o.opts.Target, job.Name)

	out := Outcome{Job: job, Stage: StagePending}
	var staged []string

	fail := func(stage Stage, path string, err error) Outcome {
		for _, p := range staged {
			os.Remove(p)
		}
		out.Stage = stage
		out.Err = &StageError{Stage: stage, Link: job.Link, Path: path, Err: err}
		out.Retryable = isTimeout(err)
		logger.Error("job failed", "stage", stage, "path", path, "retryable", out.Retryable, "error", err)
		progress.TileFailed()
		return out
	}

	progress.TileStarted()

	// Fetch. Cancellation is checked before the stage, an in-flight
	// download runs to completion or StageTimeout.
	if err := ctx.Err(); err != nil {
		return fail(StageFetching, archivePath, err)
	}
	logger.Info("downloading", "path", archivePath)
	fctx, cancel := o.stageContext(context.WithoutCancel(ctx))
	n, err := o.stages.Fetcher.Fetch(fctx, job.Link, archivePath, o.opts.Credentials)
	cancel()
	if err != nil {
		return fail(StageFetching, archivePath, err)
	}
	if _, err := os.Stat(archivePath); err != nil {
		return fail(StageFetching, archivePath, fmt.Errorf("downloaded file missing: %w", err))
	}
	progress.BytesDownloaded(n)
	logger.Info("downloaded", "path", archivePath, "bytes", n)

	artifacts := []string{archivePath}

	if mode.Unpacks() {
		staged = []string{archivePath}
		if err := ctx.Err(); err != nil {
			return fail(StageUnpacking, archivePath, err)
		}

		destDir := o.opts.Target
		if mode.Converts() && policy.PayloadIsGeoTIFF {
			destDir = filepath.Join(o.opts.Target, GeoTIFFDir)
		}
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fail(StageUnpacking, destDir, err)
		}
		payload, err := o.stages.Unpacker.Unpack(archivePath, destDir, policy)
		if err != nil {
			return fail(StageUnpacking, archivePath, err)
		}
		staged = []string{payload}
		artifacts = []string{payload}
		logger.Info("unpacked", "payload", payload)

		if mode.Converts() {
			artifacts, err = o.convert(ctx, payload, policy, mode)
			if err != nil {
				return fail(StageConverting, payload, err)
			}
			staged = nil
			if !contains(artifacts, payload) {
				if err := os.Remove(payload); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to remove payload", "path", payload, "error", err)
				}
			}
		} else {
			staged = nil
		}
	}

	if o.stages.Publisher != nil {
		if err := ctx.Err(); err != nil {
			return fail(StagePublishing, archivePath, err)
		}
		pctx, cancel := o.stageContext(ctx)
		keys, err := o.stages.Publisher.Publish(pctx, artifacts)
		cancel()
		if err != nil {
			return fail(StagePublishing, strings.Join(artifacts, ","), err)
		}
		logger.Info("published", "keys", keys)
	}

	out.Stage = StageDone
	out.Artifacts = artifacts
	logger.Info("done", "artifacts", artifacts)
	progress.TileCompleted()
	return out
}

// convert runs the conversions the mode asks for. The ellipsoidal output is
// produced first because a plain GeoTIFF payload is moved, not copied.
func (o *Orchestrator) convert(ctx context.Context, payload string, policy source.Policy, mode Mode) ([]string, error) {
	stem := strings.TrimSuffix(filepath.Base(payload), filepath.Ext(payload))
	var artifacts []string

	if mode.Ellipsoidal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(o.opts.Target, filepath.FromSlash(EllipsoidalDir), stem+".tiff")
		cctx, cancel := o.stageContext(ctx)
		art, err := o.stages.Converter.Ellipsoidal(cctx, payload, out, policy)
		cancel()
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, art)
	}

	if mode.Plain() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := filepath.Join(o.opts.Target, GeoTIFFDir, stem+".tiff")
		if policy.PayloadIsGeoTIFF {
			out = filepath.Join(o.opts.Target, GeoTIFFDir, filepath.Base(payload))
		}
		cctx, cancel := o.stageContext(ctx)
		art, err := o.stages.Converter.Plain(cctx, payload, out, policy)
		cancel()
		if err != nil {
			for _, a := range artifacts {
				os.Remove(a)
			}
			return nil, err
		}
		artifacts = append(artifacts, art)
	}

	return artifacts, nil
}

// isTimeout reports whether err is a timeout worth retrying on a later run.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type nopProgress struct{}

func (nopProgress) TileStarted()          {}
func (nopProgress) BytesDownloaded(int64) {}
func (nopProgress) TileCompleted()        {}
func (nopProgress) TileFailed()           {}
