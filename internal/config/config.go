// Package config assembles the service configuration from defaults, an
// optional YAML file and PASSWATCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/passwatch/internal/passes"
)

const envPrefix = "PASSWATCH_"

// Config is the complete service configuration.
type Config struct {
	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
	Spacecraft   string `yaml:"spacecraft"`
	StationsFile string `yaml:"stations_file"`
	TrustProxy   bool   `yaml:"trust_proxy"`

	Prediction Prediction `yaml:"prediction"`
	TLE        TLE        `yaml:"tle"`
	Stream     Stream     `yaml:"stream"`
	Auth       Auth       `yaml:"auth"`
}

// Prediction controls the sample grid and catalog construction.
type Prediction struct {
	Resolution time.Duration `yaml:"resolution"`
	Horizon    time.Duration `yaml:"horizon"`
	Threshold  float64       `yaml:"elevation_threshold"` // degrees
	Workers    int           `yaml:"workers"`

	// RefreshInterval rebuilds the horizon on a timer; 0 disables it and the
	// horizon is only rebuilt on TLE change, expiry or explicit request.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// TLE controls element set acquisition.
type TLE struct {
	File          string        `yaml:"file"`
	EnableFetch   bool          `yaml:"enable_fetch"`
	SourceURL     string        `yaml:"source_url"`
	ExtraURLs     []string      `yaml:"extra_urls"`
	CacheDir      string        `yaml:"cache_dir"`
	MaxFiles      int           `yaml:"max_files"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Stream controls the push endpoints.
type Stream struct {
	LiveInterval       time.Duration `yaml:"live_interval"`
	TrackInterval      time.Duration `yaml:"track_interval"`
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"`
}

// Auth holds bearer-token settings for mutating routes.
type Auth struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:     ":8080",
		LogLevel:     "info",
		Spacecraft:   "CRYOSAT 2",
		StationsFile: "inputs/ground_stations.json",
		Prediction: Prediction{
			Resolution: 10 * time.Second,
			Horizon:    7 * 24 * time.Hour,
			Threshold:  5,
			Workers:    runtime.NumCPU(),
		},
		TLE: TLE{
			EnableFetch:   true,
			CacheDir:      "/tmp/passwatch/tle",
			MaxFiles:      5,
			CheckInterval: 6 * time.Hour,
		},
		Stream: Stream{
			LiveInterval:       time.Second,
			TrackInterval:      10 * time.Second,
			KeepaliveInterval:  30 * time.Second,
			MaxConcurrentPerIP: 10,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// PASSWATCH_CONFIG (if any), then environment overrides. The result is
// validated and logged.
func Load(logger *slog.Logger) (Config, error) {
	cfg := Default()

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
		logger.Info("config file loaded", "path", path)
	}

	cfg.applyEnv(logger)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.log(logger)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return nil
}

// applyEnv overrides fields from the environment. Malformed optional values
// are logged and ignored so a typo does not take the service down.
func (c *Config) applyEnv(logger *slog.Logger) {
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid "+envPrefix+key+" value, using default", "value", v, "default", *dst)
			return
		}
		*dst = b
	}
	positiveInt := func(key string, dst *int) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid "+envPrefix+key+" value, using default", "value", v, "default", *dst)
			return
		}
		*dst = n
	}
	// Durations accept Go syntax ("10s", "168h") or a plain number of seconds.
	duration := func(key string, dst *time.Duration, allowZero bool) {
		v := os.Getenv(envPrefix + key)
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil || d < 0 || (d == 0 && !allowZero) {
			logger.Warn("invalid "+envPrefix+key+" value, using default", "value", v, "default", dst.String())
			return
		}
		*dst = d
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("SPACECRAFT", &c.Spacecraft)
	str("STATIONS_FILE", &c.StationsFile)
	boolean("TRUST_PROXY", &c.TrustProxy)

	// Grid parameters are not defaulted on error: an explicit but unusable
	// resolution or horizon must fail validation.
	if v := os.Getenv(envPrefix + "RESOLUTION"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			d = -1
		}
		c.Prediction.Resolution = d
	}
	if v := os.Getenv(envPrefix + "HORIZON"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			d = -1
		}
		c.Prediction.Horizon = d
	}
	if v := os.Getenv(envPrefix + "ELEVATION_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Warn("invalid "+envPrefix+"ELEVATION_THRESHOLD value, using default", "value", v, "default", c.Prediction.Threshold)
		} else {
			c.Prediction.Threshold = f
		}
	}
	positiveInt("PROP_WORKERS", &c.Prediction.Workers)
	duration("REFRESH_INTERVAL", &c.Prediction.RefreshInterval, true)

	str("TLE_FILE", &c.TLE.File)
	boolean("ENABLE_TLE_FETCH", &c.TLE.EnableFetch)
	str("TLE_SOURCE_URL", &c.TLE.SourceURL)
	if v := os.Getenv(envPrefix + "TLE_EXTRA_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		c.TLE.ExtraURLs = urls
	}
	str("TLE_CACHE_DIR", &c.TLE.CacheDir)
	positiveInt("TLE_MAX_FILES", &c.TLE.MaxFiles)
	duration("TLE_CHECK_INTERVAL", &c.TLE.CheckInterval, true)

	duration("LIVE_INTERVAL", &c.Stream.LiveInterval, false)
	duration("TRACK_INTERVAL", &c.Stream.TrackInterval, false)
	duration("STREAM_KEEPALIVE_INTERVAL", &c.Stream.KeepaliveInterval, false)
	positiveInt("STREAM_MAX_CONCURRENT", &c.Stream.MaxConcurrentPerIP)

	boolean("AUTH_ENABLED", &c.Auth.Enabled)
	str("AUTH_TOKEN", &c.Auth.Token)
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate reports configuration errors. Grid problems wrap
// passes.ErrInvalidConfiguration.
func (c Config) Validate() error {
	var errs []error

	if c.Prediction.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("%w: resolution must be positive, got %s", passes.ErrInvalidConfiguration, c.Prediction.Resolution))
	}
	if c.Prediction.Horizon <= 0 {
		errs = append(errs, fmt.Errorf("%w: horizon must be positive, got %s", passes.ErrInvalidConfiguration, c.Prediction.Horizon))
	}
	if c.Prediction.Resolution > 0 && c.Prediction.Horizon > 0 && c.Prediction.Horizon < c.Prediction.Resolution {
		errs = append(errs, fmt.Errorf("%w: horizon %s shorter than resolution %s", passes.ErrInvalidConfiguration, c.Prediction.Horizon, c.Prediction.Resolution))
	}
	if t := c.Prediction.Threshold; t < -90 || t > 90 {
		errs = append(errs, fmt.Errorf("%w: elevation threshold %v outside [-90, 90]", passes.ErrInvalidConfiguration, t))
	}
	if strings.TrimSpace(c.Spacecraft) == "" {
		errs = append(errs, fmt.Errorf("%w: spacecraft name is empty", passes.ErrInvalidConfiguration))
	}
	if c.StationsFile == "" {
		errs = append(errs, fmt.Errorf("%w: stations file is empty", passes.ErrInvalidConfiguration))
	}
	if c.Stream.LiveInterval <= 0 || c.Stream.TrackInterval <= 0 || c.Stream.KeepaliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: stream intervals must be positive", passes.ErrInvalidConfiguration))
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		errs = append(errs, errors.New(envPrefix+"AUTH_TOKEN is required when auth is enabled"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

func (c Config) log(logger *slog.Logger) {
	logger.Info("prediction config",
		"spacecraft", c.Spacecraft,
		"stations_file", c.StationsFile,
		"resolution_seconds", c.Prediction.Resolution.Seconds(),
		"horizon_seconds", c.Prediction.Horizon.Seconds(),
		"elevation_threshold_deg", c.Prediction.Threshold,
		"workers", c.Prediction.Workers,
		"refresh_interval_seconds", c.Prediction.RefreshInterval.Seconds(),
	)
	logger.Info("TLE config",
		"file", c.TLE.File,
		"fetch_enabled", c.TLE.EnableFetch,
		"source_url", c.TLE.SourceURL,
		"extra_urls", c.TLE.ExtraURLs,
		"cache_dir", c.TLE.CacheDir,
		"check_interval_seconds", c.TLE.CheckInterval.Seconds(),
	)
	logger.Info("stream config",
		"live_interval_seconds", c.Stream.LiveInterval.Seconds(),
		"track_interval_seconds", c.Stream.TrackInterval.Seconds(),
		"keepalive_interval_seconds", c.Stream.KeepaliveInterval.Seconds(),
		"max_concurrent_per_ip", c.Stream.MaxConcurrentPerIP,
	)
	if c.Auth.Enabled {
		logger.Info("auth enabled")
	}
}
