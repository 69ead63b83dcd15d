// Package propagation turns an element set into Earth-fixed positions over a
// sample grid and serves look angles and ground tracks from them.
package propagation

import (
	"errors"
	"fmt"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/passwatch/internal/tle"
	"github.com/star/passwatch/internal/transform"
)

// ErrPropagation is returned when SGP4 produces no usable position.
var ErrPropagation = errors.New("sgp4 propagation failed")

// Model is an initialised SGP4 model for one element set. It is read-only
// after construction and safe for concurrent use.
//
// go-satellite takes calendar fields with whole seconds, so every instant is
// truncated to the second before propagation.
type Model struct {
	sat   satellite.Satellite
	entry tle.Entry
}

// NewModel initialises SGP4 (WGS-84 constants) from an element set.
//
// The lines are validated first because go-satellite aborts the process on
// malformed input.
func NewModel(entry tle.Entry) (*Model, error) {
	if err := tle.ValidateLines(entry.Line1, entry.Line2); err != nil {
		return nil, fmt.Errorf("element set %q: %w", entry.Name, err)
	}

	sat := satellite.TLEToSat(entry.Line1, entry.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init for %q: code=%d %s", entry.Name, sat.Error, sat.ErrorStr)
	}
	return &Model{sat: sat, entry: entry}, nil
}

// Entry returns the element set the model was built from.
func (m *Model) Entry() tle.Entry {
	return m.entry
}

// TEMEAt returns the TEME position (km) at t.
func (m *Model) TEMEAt(t time.Time) (transform.Vector, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(m.sat,
		t.Year(), int(t.Month()), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
	)

	v := transform.Vector{X: pos.X, Y: pos.Y, Z: pos.Z}
	if !transform.PlausibleOrbit(v) {
		return transform.Vector{}, fmt.Errorf("%w for %q at %s: radius %.1f km",
			ErrPropagation, m.entry.Name, t.Format(time.RFC3339), v.Norm())
	}
	return v, nil
}

// EarthFixedAt returns the ECEF position (km) at t.
func (m *Model) EarthFixedAt(t time.Time) (transform.Vector, error) {
	teme, err := m.TEMEAt(t)
	if err != nil {
		return transform.Vector{}, err
	}
	return transform.TEMEToECEF(teme, transform.SiderealAngle(t.UTC().Truncate(time.Second))), nil
}
