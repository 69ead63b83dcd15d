package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/passwatch/internal/metrics"
)

// LoaderConfig selects where the element set comes from.
type LoaderConfig struct {
	Name        string   // spacecraft name as it appears in the TLE data
	File        string   // local TLE file; when set, no network access happens
	EnableFetch bool     // query Celestrak when File is empty
	BaseURL     string   // Celestrak GP endpoint
	ExtraURLs   []string // additional sources appended to each fetch
	CacheDir    string
	MaxFiles    int
}

// Loader resolves the configured spacecraft to a Dataset.
type Loader struct {
	cfg     LoaderConfig
	fetcher *Fetcher
	cache   *Cache
	logger  *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig, logger *slog.Logger) *Loader {
	return &Loader{
		cfg:     cfg,
		fetcher: NewFetcher(cfg.BaseURL, logger, cfg.ExtraURLs...),
		cache:   NewCache(cfg.CacheDir, cfg.MaxFiles),
		logger:  logger,
	}
}

// Load returns the element set for the configured spacecraft.
//
// A configured file always wins. Otherwise the set is fetched by name and
// the raw response cached; when the fetch fails or does not contain the
// spacecraft, the newest cached response is used instead.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	if l.cfg.File != "" {
		return l.loadFile()
	}
	if !l.cfg.EnableFetch {
		return l.loadCache(fmt.Errorf("TLE fetch disabled and no TLE file configured"))
	}

	now := time.Now().UTC()
	data, err := l.fetcher.FetchByName(ctx, l.cfg.Name)
	if err != nil {
		l.logger.Warn("TLE fetch failed", "name", l.cfg.Name, "error", err)
		return l.loadCache(err)
	}

	entry, err := l.pick(data)
	if err != nil {
		l.logger.Warn("fetched TLE data unusable", "name", l.cfg.Name, "error", err)
		return l.loadCache(err)
	}

	if err := l.cache.Write(l.cfg.Name, data, now); err != nil {
		l.logger.Warn("TLE cache write failed", "error", err)
	}

	l.logger.Info("TLE fetched",
		"name", entry.Name,
		"catalog_number", entry.CatalogNumber,
		"epoch", entry.Epoch.Format(time.RFC3339),
		"period_minutes", entry.Period().Minutes(),
	)
	return &Dataset{Source: "celestrak", FetchedAt: now, Entry: entry}, nil
}

func (l *Loader) loadFile() (*Dataset, error) {
	data, err := os.ReadFile(l.cfg.File)
	if err != nil {
		return nil, fmt.Errorf("reading TLE file: %w", err)
	}
	entry, err := l.pick(data)
	if err != nil {
		return nil, fmt.Errorf("TLE file %s: %w", l.cfg.File, err)
	}

	fetchedAt := time.Now().UTC()
	if fi, err := os.Stat(l.cfg.File); err == nil {
		fetchedAt = fi.ModTime().UTC()
	}

	l.logger.Info("TLE loaded from file",
		"file", l.cfg.File,
		"name", entry.Name,
		"epoch", entry.Epoch.Format(time.RFC3339),
	)
	return &Dataset{Source: "file", FetchedAt: fetchedAt, Entry: entry}, nil
}

// loadCache falls back to the newest cached response. cause is the reason
// the primary source was not used and is reported if the cache is empty too.
func (l *Loader) loadCache(cause error) (*Dataset, error) {
	data, ts, err := l.cache.LoadLatest(l.cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("no usable TLE for %q: %w (cache: %v)", l.cfg.Name, cause, err)
	}
	entry, err := l.pick(data)
	if err != nil {
		return nil, fmt.Errorf("cached TLE for %q: %w", l.cfg.Name, err)
	}

	metrics.IncTLEFetches("fallback")
	l.logger.Info("TLE loaded from cache",
		"name", entry.Name,
		"cached_at", ts.Format(time.RFC3339),
	)
	return &Dataset{Source: "cache", FetchedAt: ts, Entry: entry}, nil
}

func (l *Loader) pick(data []byte) (Entry, error) {
	entries, err := Parse(bytes.NewReader(data), l.logger)
	if err != nil {
		return Entry{}, err
	}
	return FindByName(entries, l.cfg.Name)
}
