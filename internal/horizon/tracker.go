// Package horizon owns the current pass catalog.
//
// A horizon is one propagation of the spacecraft over [start, start+horizon)
// together with the catalog built from it. The tracker rebuilds the horizon
// at startup, when the element set changes, when the remaining horizon runs
// short, on an optional timer, and on explicit request. Readers see either
// the old snapshot or the new one, never a partial rebuild.
package horizon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/propagation"
	"github.com/star/passwatch/internal/tle"
)

// ErrNotReady is returned while no horizon has been built yet.
var ErrNotReady = errors.New("no pass catalog built yet")

// Source supplies element sets. *tle.Loader satisfies it.
type Source interface {
	Load(ctx context.Context) (*tle.Dataset, error)
}

// Config controls horizon construction and maintenance.
type Config struct {
	Resolution time.Duration
	Horizon    time.Duration
	Threshold  float64 // degrees
	Workers    int     // stations segmented concurrently

	RefreshInterval time.Duration // 0 disables timed rebuilds
	CheckInterval   time.Duration // element set polling; 0 disables
}

// expiryMargin is how much horizon must remain ahead of now before a rebuild
// is forced.
func (c Config) expiryMargin() time.Duration {
	return c.Horizon / 4
}

// Snapshot is one built horizon. It is immutable once published.
type Snapshot struct {
	Dataset   *tle.Dataset
	Grid      passes.Grid
	Ephemeris *propagation.Ephemeris
	Catalog   *passes.Catalog
	BuiltAt   time.Time
}

// Period returns the orbital period of the spacecraft in this snapshot.
func (s *Snapshot) Period() time.Duration {
	return s.Dataset.Entry.Period()
}

// Tracker builds and publishes horizon snapshots.
type Tracker struct {
	cfg      Config
	stations []passes.Station
	source   Source
	store    *tle.Store
	pool     *propagation.WorkerPool
	logger   *slog.Logger
	tracer   trace.Tracer

	current atomic.Pointer[Snapshot]

	buildMu  sync.Mutex // serialises rebuilds
	requests chan struct{}
	now      func() time.Time
}

// NewTracker creates a Tracker. Stations are fixed for the lifetime of the
// tracker.
func NewTracker(cfg Config, stations []passes.Station, source Source, store *tle.Store, pool *propagation.WorkerPool, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:      cfg,
		stations: stations,
		source:   source,
		store:    store,
		pool:     pool,
		logger:   logger,
		tracer:   otel.Tracer("github.com/star/passwatch/internal/horizon"),
		requests: make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Current returns the published snapshot, or nil before the first build.
func (t *Tracker) Current() *Snapshot {
	return t.current.Load()
}

// Ready reports ErrNotReady until a catalog has been published.
func (t *Tracker) Ready() error {
	if t.current.Load() == nil {
		return ErrNotReady
	}
	return nil
}

// Stations returns the station inventory the tracker builds catalogs for.
func (t *Tracker) Stations() []passes.Station {
	return t.stations
}

// Threshold returns the elevation threshold in degrees.
func (t *Tracker) Threshold() float64 {
	return t.cfg.Threshold
}

// RequestRefresh asks the maintenance loop for a rebuild. It never blocks;
// requests made while one is already pending are coalesced. It reports
// whether a new request was queued.
func (t *Tracker) RequestRefresh() bool {
	select {
	case t.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// Rebuild propagates ds over a horizon starting at now and publishes the
// resulting catalog. The previous snapshot keeps serving until the swap.
func (t *Tracker) Rebuild(ctx context.Context, ds *tle.Dataset, now time.Time, reason string) (*Snapshot, error) {
	if ds == nil {
		return nil, errors.New("no element set loaded")
	}

	t.buildMu.Lock()
	defer t.buildMu.Unlock()

	ctx, span := t.tracer.Start(ctx, "horizon.Rebuild", trace.WithAttributes(
		attribute.String("reason", reason),
		attribute.String("spacecraft", ds.Entry.Name),
	))
	defer span.End()

	graceful := t.current.Load() != nil
	if graceful {
		metrics.SetHorizonGracePeriodActive(true)
		defer metrics.SetHorizonGracePeriodActive(false)
	}

	start := time.Now()
	snap, err := t.build(ctx, ds, now)
	if err != nil {
		metrics.IncHorizonRefreshErrors()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.logger.Error("horizon rebuild failed", "reason", reason, "error", err)
		return nil, err
	}
	duration := time.Since(start)

	t.current.Store(snap)
	metrics.ObserveHorizonRefresh(duration)
	metrics.SetHorizonRemaining(snap.Grid.End().Sub(now))

	span.SetAttributes(attribute.Int("passes", len(snap.Catalog.Passes)))
	t.logger.Info("horizon rebuilt",
		"reason", reason,
		"catalog_id", snap.Catalog.ID,
		"tle_source", ds.Source,
		"from", snap.Grid.Start.Format(time.RFC3339),
		"to", snap.Grid.End().Format(time.RFC3339),
		"passes", len(snap.Catalog.Passes),
		"station_failures", len(snap.Catalog.Failures),
		"duration_ms", duration.Milliseconds(),
	)
	return snap, nil
}

func (t *Tracker) build(ctx context.Context, ds *tle.Dataset, now time.Time) (*Snapshot, error) {
	// The propagator works in whole seconds; align the grid so every instant
	// is exactly representable.
	grid, err := passes.BuildGrid(now.UTC().Truncate(time.Second), t.cfg.Resolution, t.cfg.Horizon)
	if err != nil {
		return nil, err
	}

	model, err := propagation.NewModel(ds.Entry)
	if err != nil {
		return nil, err
	}
	eph, err := propagation.NewEphemeris(ctx, model, t.pool, grid.Instants, t.logger)
	if err != nil {
		return nil, err
	}

	builder := passes.NewBuilder(eph, passes.BuilderConfig{
		Threshold: t.cfg.Threshold,
		Workers:   t.cfg.Workers,
	}, t.logger)
	cat, err := builder.Build(ctx, t.stations, grid)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Dataset:   ds,
		Grid:      grid,
		Ephemeris: eph,
		Catalog:   cat,
		BuiltAt:   now.UTC(),
	}, nil
}

// Init loads the element set if none is stored yet and builds the first
// horizon. It is meant to run once at startup; failures are fatal there.
func (t *Tracker) Init(ctx context.Context) (*Snapshot, error) {
	ds := t.store.Get()
	if ds == nil {
		var err error
		ds, err = t.source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading element set: %w", err)
		}
		t.store.Set(ds)
	}
	return t.Rebuild(ctx, ds, t.now(), "startup")
}

// Start runs the maintenance loop until ctx is cancelled. Init must have
// succeeded first.
func (t *Tracker) Start(ctx context.Context) {
	var checkC, refreshC <-chan time.Time
	if t.cfg.CheckInterval > 0 {
		tk := time.NewTicker(t.cfg.CheckInterval)
		defer tk.Stop()
		checkC = tk.C
	}
	if t.cfg.RefreshInterval > 0 {
		tk := time.NewTicker(t.cfg.RefreshInterval)
		defer tk.Stop()
		refreshC = tk.C
	}
	expiry := time.NewTicker(time.Minute)
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("horizon tracker stopped")
			return
		case <-checkC:
			t.checkElements(ctx)
		case <-refreshC:
			t.rebuildCurrent(ctx, "interval")
		case <-t.requests:
			t.rebuildCurrent(ctx, "request")
		case <-expiry.C:
			t.checkExpiry(ctx)
		}
	}
}

// checkElements reloads the element set and rebuilds when it changed.
func (t *Tracker) checkElements(ctx context.Context) {
	ds, err := t.source.Load(ctx)
	if err != nil {
		t.logger.Warn("element set check failed, keeping current horizon", "error", err)
		return
	}
	cur := t.store.Get()
	if cur != nil && cur.Entry.SameElements(ds.Entry) {
		t.logger.Debug("element set unchanged", "source", ds.Source)
		return
	}
	t.store.Set(ds)
	t.logger.Info("element set changed",
		"spacecraft", ds.Entry.Name,
		"epoch", ds.Entry.Epoch.Format(time.RFC3339),
		"source", ds.Source,
	)
	t.Rebuild(ctx, ds, t.now(), "tle_change")
}

// checkExpiry rebuilds when less than the expiry margin of horizon remains.
func (t *Tracker) checkExpiry(ctx context.Context) {
	snap := t.current.Load()
	if snap == nil {
		return
	}
	now := t.now()
	remaining := snap.Grid.End().Sub(now)
	metrics.SetHorizonRemaining(remaining)
	if remaining < t.cfg.expiryMargin() {
		t.Rebuild(ctx, snap.Dataset, now, "expiry")
	}
}

func (t *Tracker) rebuildCurrent(ctx context.Context, reason string) {
	ds := t.store.Get()
	if ds == nil {
		t.logger.Warn("horizon rebuild skipped, no element set loaded", "reason", reason)
		return
	}
	t.Rebuild(ctx, ds, t.now(), reason)
}
