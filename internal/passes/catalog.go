package passes

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/passwatch/internal/metrics"
)

const tracerName = "github.com/star/passwatch/internal/passes"

// Catalog is every pass detected over one propagation horizon, ordered by
// ascending AOS with ties broken by station name. It is never mutated after
// Build returns; a new horizon produces a new Catalog.
type Catalog struct {
	ID          string          `json:"id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Resolution  time.Duration   `json:"resolution"`
	Threshold   float64         `json:"elevation_threshold"`
	Stations    []Station       `json:"stations"`
	Passes      []Pass          `json:"passes"`
	Failures    []*StationError `json:"-"`
}

// ForStation returns the passes of a single station, in catalog order.
func (c *Catalog) ForStation(name string) []Pass {
	var out []Pass
	for _, p := range c.Passes {
		if p.Station == name {
			out = append(out, p)
		}
	}
	return out
}

// BuilderConfig controls catalog construction.
type BuilderConfig struct {
	Threshold float64 // degrees; a sample is visible when elevation > Threshold
	Workers   int     // max stations segmented concurrently (default: runtime.NumCPU())
}

// Builder turns station look angles into a Catalog.
type Builder struct {
	provider LookAngleProvider
	config   BuilderConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewBuilder creates a Builder backed by the given provider.
func NewBuilder(provider LookAngleProvider, config BuilderConfig, logger *slog.Logger) *Builder {
	if config.Workers < 1 {
		config.Workers = runtime.NumCPU()
	}
	return &Builder{
		provider: provider,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

type stationResult struct {
	passes []Pass
	err    *StationError
}

// Build segments every station over grid and merges the results.
//
// Configuration problems (bad grid, malformed or duplicate stations) fail the
// whole build before any look angles are requested. Provider failures only
// drop the affected station; they are logged and listed in Catalog.Failures.
func (b *Builder) Build(ctx context.Context, stations []Station, grid Grid) (*Catalog, error) {
	if grid.Resolution <= 0 {
		return nil, fmt.Errorf("%w: grid resolution must be positive", ErrInvalidConfiguration)
	}
	if err := ValidateStations(stations); err != nil {
		return nil, err
	}

	ctx, span := b.tracer.Start(ctx, "passes.Build", trace.WithAttributes(
		attribute.Int("stations", len(stations)),
		attribute.Int("samples", len(grid.Instants)),
		attribute.Float64("threshold_deg", b.config.Threshold),
	))
	defer span.End()

	start := time.Now()
	results := make([]stationResult, len(stations))
	sem := make(chan struct{}, b.config.Workers)
	var wg sync.WaitGroup

	for i, st := range stations {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			span.SetStatus(codes.Error, "cancelled")
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(idx int, st Station) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = b.buildStation(ctx, st, grid)
		}(i, st)
	}
	wg.Wait()

	cat := &Catalog{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Start:       grid.Start,
		End:         grid.End(),
		Resolution:  grid.Resolution,
		Threshold:   b.config.Threshold,
		Stations:    append([]Station(nil), stations...),
	}

	for _, r := range results {
		if r.err != nil {
			cat.Failures = append(cat.Failures, r.err)
			continue
		}
		cat.Passes = append(cat.Passes, r.passes...)
	}
	sortPasses(cat.Passes)

	duration := time.Since(start)
	metrics.ObserveCatalogBuild(duration, len(cat.Passes))
	span.SetAttributes(
		attribute.Int("passes", len(cat.Passes)),
		attribute.Int("failed_stations", len(cat.Failures)),
	)

	b.logger.Info("pass catalog built",
		"catalog_id", cat.ID,
		"stations", len(stations),
		"failed_stations", len(cat.Failures),
		"passes", len(cat.Passes),
		"samples", len(grid.Instants),
		"duration_ms", duration.Milliseconds(),
	)

	return cat, nil
}

func (b *Builder) buildStation(ctx context.Context, st Station, grid Grid) stationResult {
	_, span := b.tracer.Start(ctx, "passes.Station", trace.WithAttributes(
		attribute.String("station", st.Name),
	))
	defer span.End()

	fail := func(reason string, err error) stationResult {
		metrics.IncStationFailures(reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		b.logger.Warn("station omitted from catalog",
			"station", st.Name,
			"reason", reason,
			"error", err,
		)
		return stationResult{err: &StationError{Station: st.Name, Err: err}}
	}

	angles, err := b.provider.LookAngles(st.Location, grid.Instants)
	if err != nil {
		return fail("provider_error", fmt.Errorf("look angles: %w", err))
	}
	if len(angles) != len(grid.Instants) {
		return fail("inconsistent_output", fmt.Errorf("%w: got %d look angles for %d instants",
			ErrInconsistentProviderOutput, len(angles), len(grid.Instants)))
	}

	passes := Segment(st.Name, samplesFromLookAngles(grid.Instants, angles), grid.Resolution, b.config.Threshold)
	span.SetAttributes(attribute.Int("passes", len(passes)))
	return stationResult{passes: passes}
}

// sortPasses orders by AOS, then station name.
func sortPasses(p []Pass) {
	sort.SliceStable(p, func(i, j int) bool {
		if !p[i].AOS.Equal(p[j].AOS) {
			return p[i].AOS.Before(p[j].AOS)
		}
		return p[i].Station < p[j].Station
	})
}

// ValidateStations checks names are present and unique and every location is
// in range.
func ValidateStations(stations []Station) error {
	seen := make(map[string]bool, len(stations))
	for _, st := range stations {
		if st.Name == "" {
			return fmt.Errorf("%w: station with empty name", ErrInvalidConfiguration)
		}
		if seen[st.Name] {
			return fmt.Errorf("%w: duplicate station %q", ErrInvalidConfiguration, st.Name)
		}
		seen[st.Name] = true
		if err := st.Location.Validate(); err != nil {
			return fmt.Errorf("station %q: %w", st.Name, err)
		}
	}
	return nil
}
