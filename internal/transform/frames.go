// Package transform converts SGP4 output into the frames used for pass
// prediction: TEME to Earth-fixed, Earth-fixed to geodetic, and Earth-fixed
// to station-relative look angles.
//
// All distances are kilometres. The TEME to ECEF step is a GMST-only z-axis
// rotation (no polar motion, no equation of the equinoxes); the resulting
// error of a few tens of metres is far below what a 10 s sample grid resolves.
package transform

import (
	"math"
	"time"
)

const (
	j2000 = 2451545.0 // Julian Date of J2000.0

	// OmegaEarth is the Earth rotation rate in rad/s.
	OmegaEarth = 7.292115146706979e-5

	secondsPerDay = 86400.0
)

// Vector is a Cartesian position in kilometres.
type Vector struct {
	X, Y, Z float64
}

// Norm returns the Euclidean length of v.
func (v Vector) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// IsFinite reports whether no component is NaN or infinite.
func (v Vector) IsFinite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// NaNVector marks an instant that could not be propagated.
func NaNVector() Vector {
	n := math.NaN()
	return Vector{X: n, Y: n, Z: n}
}

// JulianDate returns the Julian Date of t (UTC), including fractional seconds.
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	y := float64(t.Year())
	m := float64(t.Month())
	if m <= 2 {
		y--
		m += 12
	}
	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	dayFrac := (float64(t.Hour()) +
		float64(t.Minute())/60 +
		(float64(t.Second())+float64(t.Nanosecond())/1e9)/3600) / 24

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) +
		float64(t.Day()) + b - 1524.5 + dayFrac
}

// SiderealAngle returns Greenwich Mean Sidereal Time in radians, [0, 2π),
// using the IAU-82 polynomial (Vallado eq. 3-47).
func SiderealAngle(t time.Time) float64 {
	tc := (JulianDate(t) - j2000) / 36525.0

	sec := 67310.54841 +
		(876600*3600+8640184.812866)*tc +
		0.093104*tc*tc -
		6.2e-6*tc*tc*tc

	sec = math.Mod(sec, secondsPerDay)
	if sec < 0 {
		sec += secondsPerDay
	}
	return sec / secondsPerDay * 2 * math.Pi
}

// TEMEToECEF rotates a TEME position into the Earth-fixed frame for the given
// sidereal angle.
func TEMEToECEF(teme Vector, gmst float64) Vector {
	c, s := math.Cos(gmst), math.Sin(gmst)
	return Vector{
		X: c*teme.X + s*teme.Y,
		Y: -s*teme.X + c*teme.Y,
		Z: teme.Z,
	}
}

// Orbit radius bounds accepted by PlausibleOrbit: just below the Earth's
// polar radius up to beyond GEO.
const (
	minOrbitRadiusKm = 6200.0
	maxOrbitRadiusKm = 50000.0
)

// PlausibleOrbit reports whether v is a finite position at an orbital radius.
// SGP4 does not always flag decayed or diverged element sets, so callers use
// this to turn nonsense into a failed sample.
func PlausibleOrbit(v Vector) bool {
	if !v.IsFinite() {
		return false
	}
	r := v.Norm()
	return r >= minOrbitRadiusKm && r <= maxOrbitRadiusKm
}
