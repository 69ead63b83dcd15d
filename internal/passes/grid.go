package passes

import (
	"fmt"
	"time"
)

// Grid is the ordered set of sample instants covering a prediction horizon.
type Grid struct {
	Start      time.Time
	Resolution time.Duration
	Instants   []time.Time
}

// BuildGrid returns floor(horizon/resolution) instants start + k*resolution.
// Instants are normalised to UTC.
func BuildGrid(start time.Time, resolution, horizon time.Duration) (Grid, error) {
	if resolution <= 0 {
		return Grid{}, fmt.Errorf("%w: resolution must be positive, got %s", ErrInvalidConfiguration, resolution)
	}
	if horizon <= 0 {
		return Grid{}, fmt.Errorf("%w: horizon must be positive, got %s", ErrInvalidConfiguration, horizon)
	}

	start = start.UTC()
	count := int(horizon / resolution)
	instants := make([]time.Time, count)
	for k := range instants {
		instants[k] = start.Add(time.Duration(k) * resolution)
	}

	return Grid{
		Start:      start,
		Resolution: resolution,
		Instants:   instants,
	}, nil
}

// End returns the last instant of the grid, or Start when the grid is empty.
func (g Grid) End() time.Time {
	if len(g.Instants) == 0 {
		return g.Start
	}
	return g.Instants[len(g.Instants)-1]
}

// IndexAfter returns the index of the first instant strictly after t, or
// len(Instants) when there is none.
func (g Grid) IndexAfter(t time.Time) int {
	if len(g.Instants) == 0 || g.Resolution <= 0 {
		return 0
	}
	if t.Before(g.Start) {
		return 0
	}
	i := int(t.Sub(g.Start)/g.Resolution) + 1
	if i > len(g.Instants) {
		return len(g.Instants)
	}
	return i
}
