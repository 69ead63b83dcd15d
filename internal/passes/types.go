// Package passes detects visibility windows ("passes") of an orbiting object
// over fixed ground stations and projects them against a moving clock.
//
// The pipeline is: BuildGrid produces the sample instants, a LookAngleProvider
// turns them into per-station elevations, Segment groups contiguous
// above-threshold samples into passes, Builder merges every station into one
// Catalog, and Project derives the live countdown table for a given "now".
package passes

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfiguration is returned for setup errors: non-positive
	// resolution or horizon, or a malformed station location.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInconsistentProviderOutput is returned when a LookAngleProvider
	// result is not index-aligned with the requested instants.
	ErrInconsistentProviderOutput = errors.New("inconsistent provider output")
)

// Location is a geodetic position. Altitude is in kilometres above the
// WGS-84 ellipsoid, matching the station inventory file format.
type Location struct {
	Lat float64 `json:"lat" yaml:"Lat"`
	Lon float64 `json:"lon" yaml:"Lon"`
	Alt float64 `json:"alt" yaml:"Alt"`
}

// Validate reports whether the location is usable for look-angle computation.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsInf(l.Lat, 0) || l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidConfiguration, l.Lat)
	}
	if math.IsNaN(l.Lon) || math.IsInf(l.Lon, 0) || l.Lon < -180 || l.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidConfiguration, l.Lon)
	}
	if math.IsNaN(l.Alt) || math.IsInf(l.Alt, 0) {
		return fmt.Errorf("%w: altitude %v is not finite", ErrInvalidConfiguration, l.Alt)
	}
	return nil
}

// Station is a named ground station. Immutable for the lifetime of a run.
type Station struct {
	Name     string   `json:"name"`
	Location Location `json:"location"`
}

// Sample is one look-angle observation of the object from a station.
type Sample struct {
	Instant   time.Time
	Azimuth   float64 // degrees, 0 = North, clockwise
	Elevation float64 // degrees above the local horizon
}

// LookAngle is the azimuth/elevation pair returned by a LookAngleProvider.
type LookAngle struct {
	Azimuth   float64
	Elevation float64
}

// GeoPoint is a sub-satellite point. Altitude is in kilometres.
type GeoPoint struct {
	Time time.Time `json:"time"`
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Alt  float64   `json:"alt"`
}

// LookAngleProvider computes observation geometry for a batch of instants.
// Results must be index-aligned with the input: same length, same order.
// Instants that cannot be propagated are reported as NaN, never dropped.
type LookAngleProvider interface {
	LookAngles(loc Location, instants []time.Time) ([]LookAngle, error)
	GroundTrack(instants []time.Time) ([]GeoPoint, error)
}

// Pass is one contiguous above-threshold interval for a station.
// AOS and LOS are both members of the sample grid; AOS == LOS for a
// single-sample pass.
type Pass struct {
	Station      string    `json:"station"`
	AOS          time.Time `json:"aos"`
	LOS          time.Time `json:"los"`
	MaxElevation float64   `json:"max_elevation"`
}

// Duration returns the nominal pass length LOS - AOS.
func (p Pass) Duration() time.Duration {
	return p.LOS.Sub(p.AOS)
}

// StationError records a station omitted from a catalog.
type StationError struct {
	Station string
	Err     error
}

func (e *StationError) Error() string {
	return fmt.Sprintf("station %q: %v", e.Station, e.Err)
}

func (e *StationError) Unwrap() error {
	return e.Err
}
