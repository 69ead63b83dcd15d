package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/star/passwatch/internal/metrics"
	"github.com/star/passwatch/internal/passes"
	"github.com/star/passwatch/internal/transform"
)

// Ephemeris holds the spacecraft's Earth-fixed positions over a horizon and
// implements passes.LookAngleProvider on top of them. Positions are
// propagated once; every station and every ground-track request reuses them.
// Requests for instants outside the precomputed set are propagated on demand.
type Ephemeris struct {
	model  *Model
	pool   *WorkerPool
	logger *slog.Logger

	index map[int64]int // unix second -> position
	ecef  []transform.Vector
}

var _ passes.LookAngleProvider = (*Ephemeris)(nil)

// NewEphemeris propagates model over instants.
func NewEphemeris(ctx context.Context, model *Model, pool *WorkerPool, instants []time.Time, logger *slog.Logger) (*Ephemeris, error) {
	start := time.Now()
	ecef, stats, err := pool.Positions(ctx, model, instants)
	if err != nil {
		return nil, fmt.Errorf("propagating %d instants: %w", len(instants), err)
	}
	duration := time.Since(start)
	metrics.RecordPropagation(duration, stats.OK, stats.Failed)

	index := make(map[int64]int, len(instants))
	for i, t := range instants {
		index[t.Unix()] = i
	}

	logger.Info("ephemeris propagated",
		"spacecraft", model.Entry().Name,
		"instants", len(instants),
		"failed", stats.Failed,
		"workers", pool.Workers(),
		"duration_ms", duration.Milliseconds(),
	)

	return &Ephemeris{
		model:  model,
		pool:   pool,
		logger: logger,
		index:  index,
		ecef:   ecef,
	}, nil
}

// Model returns the propagation model behind the ephemeris.
func (e *Ephemeris) Model() *Model {
	return e.model
}

// LookAngles returns azimuth/elevation from loc for every instant.
func (e *Ephemeris) LookAngles(loc passes.Location, instants []time.Time) ([]passes.LookAngle, error) {
	positions, err := e.positions(instants)
	if err != nil {
		return nil, err
	}

	obs := transform.NewObserver(loc.Lat, loc.Lon, loc.Alt)
	out := make([]passes.LookAngle, len(positions))
	for i, p := range positions {
		if !p.IsFinite() {
			out[i] = passes.LookAngle{Azimuth: math.NaN(), Elevation: math.NaN()}
			continue
		}
		la := obs.LookAt(p)
		out[i] = passes.LookAngle{Azimuth: la.Azimuth, Elevation: la.Elevation}
	}
	return out, nil
}

// GroundTrack returns the sub-satellite point for every instant.
func (e *Ephemeris) GroundTrack(instants []time.Time) ([]passes.GeoPoint, error) {
	positions, err := e.positions(instants)
	if err != nil {
		return nil, err
	}

	out := make([]passes.GeoPoint, len(positions))
	for i, p := range positions {
		if !p.IsFinite() {
			n := math.NaN()
			out[i] = passes.GeoPoint{Time: instants[i], Lat: n, Lon: n, Alt: n}
			continue
		}
		g := transform.ECEFToGeodetic(p)
		out[i] = passes.GeoPoint{Time: instants[i], Lat: g.Lat, Lon: g.Lon, Alt: g.Alt}
	}
	return out, nil
}

// positions resolves instants against the precomputed set and propagates
// the misses.
func (e *Ephemeris) positions(instants []time.Time) ([]transform.Vector, error) {
	out := make([]transform.Vector, len(instants))
	var (
		missIdx []int
		missAt  []time.Time
	)
	for i, t := range instants {
		if j, ok := e.index[t.Unix()]; ok {
			out[i] = e.ecef[j]
			continue
		}
		missIdx = append(missIdx, i)
		missAt = append(missAt, t)
	}
	if len(missAt) == 0 {
		return out, nil
	}

	extra, _, err := e.pool.Positions(context.Background(), e.model, missAt)
	if err != nil {
		return nil, err
	}
	for k, i := range missIdx {
		out[i] = extra[k]
	}
	return out, nil
}
