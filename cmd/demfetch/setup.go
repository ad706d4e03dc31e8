package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ligustah/demfetch/internal/config"
	demhttp "github.com/ligustah/demfetch/internal/http"
)

// commonFlags are shared by fetch and list.
type commonFlags struct {
	configPath string
	verbose    bool
	override   config.Config
}

func (c *commonFlags) register(flags *flag.FlagSet) {
	flags.StringVar(&c.configPath, "config", "", "YAML configuration file")
	flags.BoolVar(&c.verbose, "verbose", false, "Enable debug logging")

	flags.StringVar(&c.override.DataType, "data_type", "", "Data source: srtm, aster or copernicus (required)")
	flags.StringVar(&c.override.DataType, "dt", "", "Alias for -data_type")
	flags.StringVar(&c.override.Sources.SRTMIndex, "srtm-index", "", "Path of the SRTM GeoJSON tile index")
	flags.StringVar(&c.override.Sources.CopernicusFormat, "copernicus-format", "", "Copernicus format: DTED or DGED")
	flags.StringVar(&c.override.Sources.CopernicusRelease, "copernicus-release", "", "Copernicus release, e.g. 2023_1")
}

// load layers defaults, the config file, .env and the environment, and flags,
// then checks the result with validate.
func (c *commonFlags) load(validate func(*config.Config) error) (config.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if c.configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(c.configPath)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(c.override)
	if err := validate(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the environment if it exists. Variables already
// set are not overwritten.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// newLogger returns the run logger, tagged with a fresh run ID.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("run", uuid.NewString())
}

func newClient(cfg config.Config) *demhttp.Client {
	opts := demhttp.DefaultOptions()
	opts.ChunkSize = cfg.ChunkSize
	opts.HeaderTimeout = cfg.HTTP.HeaderTimeout
	opts.RetryAttempts = cfg.HTTP.Retry.Attempts
	opts.RetryBackoff = cfg.HTTP.Retry.Backoff
	opts.RetryMaxBackoff = cfg.HTTP.Retry.MaxBackoff
	if cfg.Workers > opts.MaxIdleConnsPerHost {
		opts.MaxIdleConnsPerHost = cfg.Workers
	}
	return demhttp.NewClient(opts)
}
