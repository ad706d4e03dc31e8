package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/demfetch/internal/progress"
	"github.com/ligustah/demfetch/internal/source"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "DEMFETCH_"

// Config defines configuration for the demfetch CLI.
type Config struct {
	Target       string        `yaml:"target"`
	DataType     string        `yaml:"data_type"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Workers      int           `yaml:"workers"`
	ChunkSize    int64         `yaml:"chunk_size"`
	Unzip        bool          `yaml:"unzip"`
	Convert      bool          `yaml:"convert"`
	Ellipsoidal  bool          `yaml:"ellipsoidal"`
	SkipExisting bool          `yaml:"skip_existing"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
	Bucket       string        `yaml:"bucket"`
	KeepLocal    bool          `yaml:"keep_local"`
	Progress     bool          `yaml:"progress"`
	Sources      SourcesConfig `yaml:"sources"`
	GDAL         GDALConfig    `yaml:"gdal"`
	HTTP         HTTPConfig    `yaml:"http"`
}

// SourcesConfig locates the link indexes of each data source.
type SourcesConfig struct {
	SRTMIndex         string `yaml:"srtm_index"`
	SRTMBaseURL       string `yaml:"srtm_base_url"`
	ASTERIndexURL     string `yaml:"aster_index_url"`
	ASTERBaseURL      string `yaml:"aster_base_url"`
	CopernicusAPIURL  string `yaml:"copernicus_api_url"`
	CopernicusFormat  string `yaml:"copernicus_format"`
	CopernicusRelease string `yaml:"copernicus_release"`
}

// GDALConfig names the conversion tools.
type GDALConfig struct {
	Translate string `yaml:"translate"`
	Warp      string `yaml:"warp"`
	GeoidGrid string `yaml:"geoid_grid"`
}

// HTTPConfig tunes the download client.
type HTTPConfig struct {
	HeaderTimeout time.Duration `yaml:"header_timeout"`
	Retry         RetryConfig   `yaml:"retry"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	enum := source.DefaultEnumeratorConfig()
	return Config{
		Workers:   1,
		ChunkSize: 16 * 1024 * 1024, // 16MiB
		Sources: SourcesConfig{
			SRTMIndex:         enum.SRTMIndex,
			SRTMBaseURL:       enum.SRTMBaseURL,
			ASTERIndexURL:     enum.ASTERIndexURL,
			ASTERBaseURL:      enum.ASTERBaseURL,
			CopernicusAPIURL:  enum.CopernicusAPIURL,
			CopernicusFormat:  enum.CopernicusFormat,
			CopernicusRelease: enum.CopernicusRelease,
		},
		GDAL: GDALConfig{
			Translate: "gdal_translate",
			Warp:      "gdalwarp",
			GeoidGrid: "us_nga_egm96_15.tif",
		},
		HTTP: HTTPConfig{
			HeaderTimeout: 60 * time.Second,
			Retry: RetryConfig{
				Attempts:   0,
				Backoff:    time.Second,
				MaxBackoff: 30 * time.Second,
			},
		},
	}
}

// EnumeratorConfig returns the source settings for source.NewEnumerator.
func (c Config) EnumeratorConfig() source.EnumeratorConfig {
	return source.EnumeratorConfig{
		SRTMIndex:         c.Sources.SRTMIndex,
		SRTMBaseURL:       c.Sources.SRTMBaseURL,
		ASTERIndexURL:     c.Sources.ASTERIndexURL,
		ASTERBaseURL:      c.Sources.ASTERBaseURL,
		CopernicusAPIURL:  c.Sources.CopernicusAPIURL,
		CopernicusFormat:  strings.ToUpper(c.Sources.CopernicusFormat),
		CopernicusRelease: c.Sources.CopernicusRelease,
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Target       string         `yaml:"target"`
	DataType     string         `yaml:"data_type"`
	Username     string         `yaml:"username"`
	Password     string         `yaml:"password"`
	Workers      int            `yaml:"workers"`
	ChunkSize    string         `yaml:"chunk_size"`
	Unzip        bool           `yaml:"unzip"`
	Convert      bool           `yaml:"convert"`
	Ellipsoidal  bool           `yaml:"ellipsoidal"`
	SkipExisting bool           `yaml:"skip_existing"`
	StageTimeout string         `yaml:"stage_timeout"`
	Bucket       string         `yaml:"bucket"`
	KeepLocal    bool           `yaml:"keep_local"`
	Progress     bool           `yaml:"progress"`
	Sources      SourcesConfig  `yaml:"sources"`
	GDAL         GDALConfig     `yaml:"gdal"`
	HTTP         yamlHTTPConfig `yaml:"http"`
}

type yamlHTTPConfig struct {
	HeaderTimeout string          `yaml:"header_timeout"`
	Retry         yamlRetryConfig `yaml:"retry"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		Target:       yc.Target,
		DataType:     yc.DataType,
		Username:     yc.Username,
		Password:     yc.Password,
		Workers:      yc.Workers,
		Unzip:        yc.Unzip,
		Convert:      yc.Convert,
		Ellipsoidal:  yc.Ellipsoidal,
		SkipExisting: yc.SkipExisting,
		Bucket:       yc.Bucket,
		KeepLocal:    yc.KeepLocal,
		Progress:     yc.Progress,
		Sources:      yc.Sources,
		GDAL:         yc.GDAL,
	}
	override.HTTP.Retry.Attempts = yc.HTTP.Retry.Attempts

	if yc.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		override.ChunkSize = size
	}

	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"stage_timeout", yc.StageTimeout, &override.StageTimeout},
		{"http.header_timeout", yc.HTTP.HeaderTimeout, &override.HTTP.HeaderTimeout},
		{"http.retry.backoff", yc.HTTP.Retry.Backoff, &override.HTTP.Retry.Backoff},
		{"http.retry.max_backoff", yc.HTTP.Retry.MaxBackoff, &override.HTTP.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.in == "" {
			continue
		}
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.out = v
	}

	return cfg.Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DEMFETCH_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"TARGET":             &c.Target,
		"DATA_TYPE":          &c.DataType,
		"USERNAME":           &c.Username,
		"PASSWORD":           &c.Password,
		"BUCKET":             &c.Bucket,
		"SRTM_INDEX":         &c.Sources.SRTMIndex,
		"SRTM_BASE_URL":      &c.Sources.SRTMBaseURL,
		"ASTER_INDEX_URL":    &c.Sources.ASTERIndexURL,
		"ASTER_BASE_URL":     &c.Sources.ASTERBaseURL,
		"COPERNICUS_API_URL": &c.Sources.CopernicusAPIURL,
		"COPERNICUS_FORMAT":  &c.Sources.CopernicusFormat,
		"COPERNICUS_RELEASE": &c.Sources.CopernicusRelease,
		"GDAL_TRANSLATE":     &c.GDAL.Translate,
		"GDAL_WARP":          &c.GDAL.Warp,
		"GDAL_GEOID_GRID":    &c.GDAL.GeoidGrid,
	}
	for name, dst := range strs {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"UNZIP":         &c.Unzip,
		"CONVERT":       &c.Convert,
		"ELLIPSOIDAL":   &c.Ellipsoidal,
		"SKIP_EXISTING": &c.SkipExisting,
		"KEEP_LOCAL":    &c.KeepLocal,
		"PROGRESS":      &c.Progress,
	}
	for name, dst := range bools {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	ints := map[string]*int{
		"WORKERS":        &c.Workers,
		"RETRY_ATTEMPTS": &c.HTTP.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"STAGE_TIMEOUT":     &c.StageTimeout,
		"HEADER_TIMEOUT":    &c.HTTP.HeaderTimeout,
		"RETRY_BACKOFF":     &c.HTTP.Retry.Backoff,
		"RETRY_MAX_BACKOFF": &c.HTTP.Retry.MaxBackoff,
	}
	for name, dst := range durations {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv(EnvPrefix + "CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse %sCHUNK_SIZE: %w", EnvPrefix, err)
		}
		c.ChunkSize = size
	}

	return nil
}

// Validate validates the configuration shared by all commands.
func (c *Config) Validate() error {
	if c.DataType == "" {
		return errors.New("config: data_type is required")
	}
	if _, err := source.ParseKind(c.DataType); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.StageTimeout < 0 {
		return errors.New("config: stage_timeout must not be negative")
	}
	if f := strings.ToUpper(c.Sources.CopernicusFormat); f != "DTED" && f != "DGED" {
		return fmt.Errorf("config: copernicus_format must be DTED or DGED, got %q", c.Sources.CopernicusFormat)
	}
	if c.KeepLocal && c.Bucket == "" {
		return errors.New("config: keep_local requires bucket")
	}
	return nil
}

// ValidateFetch validates the configuration of a fetch run. On top of
// Validate it needs a target directory, and SRTM needs Earthdata credentials.
func (c *Config) ValidateFetch() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Target == "" {
		return errors.New("config: target is required")
	}
	if kind, _ := source.ParseKind(c.DataType); kind == source.SRTM {
		if c.Username == "" || c.Password == "" {
			return errors.New("config: srtm requires username and password")
		}
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.Target, override.Target)
	setString(&c.DataType, override.DataType)
	setString(&c.Username, override.Username)
	setString(&c.Password, override.Password)
	setString(&c.Bucket, override.Bucket)
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	c.Unzip = c.Unzip || override.Unzip
	c.Convert = c.Convert || override.Convert
	c.Ellipsoidal = c.Ellipsoidal || override.Ellipsoidal
	c.SkipExisting = c.SkipExisting || override.SkipExisting
	c.KeepLocal = c.KeepLocal || override.KeepLocal
	c.Progress = c.Progress || override.Progress
	if override.StageTimeout != 0 {
		c.StageTimeout = override.StageTimeout
	}

	setString(&c.Sources.SRTMIndex, override.Sources.SRTMIndex)
	setString(&c.Sources.SRTMBaseURL, override.Sources.SRTMBaseURL)
	setString(&c.Sources.ASTERIndexURL, override.Sources.ASTERIndexURL)
	setString(&c.Sources.ASTERBaseURL, override.Sources.ASTERBaseURL)
	setString(&c.Sources.CopernicusAPIURL, override.Sources.CopernicusAPIURL)
	setString(&c.Sources.CopernicusFormat, override.Sources.CopernicusFormat)
	setString(&c.Sources.CopernicusRelease, override.Sources.CopernicusRelease)

	setString(&c.GDAL.Translate, override.GDAL.Translate)
	setString(&c.GDAL.Warp, override.GDAL.Warp)
	setString(&c.GDAL.GeoidGrid, override.GDAL.GeoidGrid)

	if override.HTTP.HeaderTimeout != 0 {
		c.HTTP.HeaderTimeout = override.HTTP.HeaderTimeout
	}
	if override.HTTP.Retry.Attempts != 0 {
		c.HTTP.Retry.Attempts = override.HTTP.Retry.Attempts
	}
	if override.HTTP.Retry.Backoff != 0 {
		c.HTTP.Retry.Backoff = override.HTTP.Retry.Backoff
	}
	if override.HTTP.Retry.MaxBackoff != 0 {
		c.HTTP.Retry.MaxBackoff = override.HTTP.Retry.MaxBackoff
	}
	return c
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
