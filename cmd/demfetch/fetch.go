package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/ligustah/demfetch/internal/archive"
	"github.com/ligustah/demfetch/internal/config"
	demhttp "github.com/ligustah/demfetch/internal/http"
	"github.com/ligustah/demfetch/internal/pipeline"
	"github.com/ligustah/demfetch/internal/progress"
	"github.com/ligustah/demfetch/internal/publish"
	"github.com/ligustah/demfetch/internal/raster"
	"github.com/ligustah/demfetch/internal/source"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var common commonFlags
	common.register(fs)
	o := &common.override

	fs.StringVar(&o.Target, "target", "", "Target directory (required)")
	fs.StringVar(&o.Target, "t", "", "Alias for -target")
	fs.StringVar(&o.Username, "username", "", "Earthdata username")
	fs.StringVar(&o.Username, "u", "", "Alias for -username")
	fs.StringVar(&o.Password, "password", "", "Earthdata password")
	fs.StringVar(&o.Password, "p", "", "Alias for -password")
	fs.BoolVar(&o.Convert, "convert-to-geotif", false, "Convert payloads to GeoTIFF")
	fs.BoolVar(&o.Convert, "gt", false, "Alias for -convert-to-geotif")
	fs.BoolVar(&o.Unzip, "unzip", false, "Extract the tile payload")
	fs.BoolVar(&o.Unzip, "uz", false, "Alias for -unzip")
	fs.BoolVar(&o.Ellipsoidal, "ellipsoidal", false, "Convert heights to the WGS84 ellipsoid")
	fs.BoolVar(&o.Ellipsoidal, "el", false, "Alias for -ellipsoidal")
	fs.IntVar(&o.Workers, "threads-count", 0, "Number of parallel jobs (default 1)")
	fs.IntVar(&o.Workers, "tc", 0, "Alias for -threads-count")
	fs.BoolVar(&o.SkipExisting, "skip-if-exist", false, "Skip tiles with an existing ellipsoidal output")
	fs.BoolVar(&o.SkipExisting, "se", false, "Alias for -skip-if-exist")
	fs.StringVar(&o.Bucket, "bucket", "", "Publish outputs to this bucket URL (s3://, gs://, file://)")
	fs.BoolVar(&o.KeepLocal, "keep-local", false, "Keep local outputs after publishing")
	fs.DurationVar(&o.StageTimeout, "stage-timeout", 0, "Time limit per stage of a job (0 = none)")
	fs.BoolVar(&o.Progress, "progress", false, "Show periodic progress")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: demfetch [fetch] [options]

Download DEM tiles of one data source into a target directory, optionally
unpacking them and converting them to GeoTIFF with GDAL.
Credentials can also be given as DEMFETCH_USERNAME and DEMFETCH_PASSWORD,
or in a .env file.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := common.load((*config.Config).ValidateFetch)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	logger := newLogger(common.verbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "\n[demfetch] Received interrupt, finishing running downloads...")
			interrupted.Store(true)
			cancel()
		case <-ctx.Done():
		}
	}()

	code := fetch(ctx, cfg, logger)
	if interrupted.Load() {
		return ExitInterrupted
	}
	return code
}

func fetch(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	kind, err := source.ParseKind(cfg.DataType)
	if err != nil {
		logger.Error("unsupported data type", "data_type", cfg.DataType)
		return ExitInvalidArgs
	}
	policy := source.PolicyFor(kind).WithCopernicusFormat(cfg.Sources.CopernicusFormat)
	mode := pipeline.ResolveMode(cfg.Unzip, cfg.Convert, cfg.Ellipsoidal)

	if kind == source.ASTER && cfg.Convert {
		logger.Warn("ASTER tiles are distributed as GeoTIFF, plain conversion only moves them")
	}

	if err := os.MkdirAll(cfg.Target, 0o755); err != nil {
		logger.Error("failed to create target", "target", cfg.Target, "error", err)
		return ExitGeneralError
	}

	client := newClient(cfg)

	enumerator, err := source.NewEnumerator(kind, cfg.EnumeratorConfig(), client, logger)
	if err != nil {
		logger.Error("failed to create enumerator", "error", err)
		return ExitInvalidArgs
	}
	links, err := enumerator.Enumerate(ctx)
	if err != nil {
		logger.Error("failed to enumerate tiles", "data_type", kind, "error", err)
		return ExitIndexError
	}

	stages := pipeline.Stages{
		Fetcher:   client,
		Unpacker:  &archive.Unpacker{Logger: logger},
		Converter: newConverter(cfg, logger),
	}

	opts := pipeline.Options{
		Target:       cfg.Target,
		Policy:       policy,
		Mode:         mode,
		Workers:      cfg.Workers,
		Credentials:  demhttp.Credentials{Username: cfg.Username, Password: cfg.Password},
		SkipExisting: cfg.SkipExisting,
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
	}

	if cfg.Bucket != "" {
		pub, err := publish.Open(ctx, cfg.Bucket, publish.Options{
			Root:      cfg.Target,
			KeepLocal: cfg.KeepLocal,
			Logger:    logger,
		})
		if err != nil {
			logger.Error("failed to open bucket", "bucket", cfg.Bucket, "error", err)
			return ExitStorageError
		}
		defer pub.Close()
		stages.Publisher = pub
		opts.SkipBucket = pub.Bucket()
	}

	orch := pipeline.New(opts, stages)
	plan, err := orch.Plan(ctx, links)
	if err != nil {
		logger.Error("failed to plan batch", "error", err)
		return ExitStorageError
	}

	logger.Info("starting batch",
		"data_type", kind,
		"mode", mode,
		"tiles", len(plan.Jobs),
		"skipped", len(plan.Skipped),
		"workers", cfg.Workers,
	)

	var reporter pipeline.Progress
	if cfg.Progress {
		r := progress.NewReporter(progress.Options{
			TotalTiles: len(plan.Jobs),
			Skipped:    len(plan.Skipped),
			Workers:    cfg.Workers,
			Output:     stderr,
			DataType:   kind.String(),
		})
		r.Start()
		defer r.Stop()
		reporter = r
	}

	batch := orch.Execute(ctx, plan, reporter)
	for o := range batch.Outcomes() {
		if !o.OK() {
			logger.Debug("tile failed", "file", o.Job.Name, "stage", o.Stage, "retryable", o.Retryable)
		}
	}
	summary := batch.Wait()

	logger.Info("batch finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"retryable", summary.Retryable,
		"skipped", summary.Skipped,
	)

	if summary.Failed > 0 {
		return ExitJobsFailed
	}
	return ExitSuccess
}

func newConverter(cfg config.Config, logger *slog.Logger) *raster.Converter {
	c := raster.NewConverter(logger)
	c.Translate = cfg.GDAL.Translate
	c.Warp = cfg.GDAL.Warp
	c.GeoidGrid = cfg.GDAL.GeoidGrid
	return c
}
