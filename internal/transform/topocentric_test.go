package transform

import (
	"math"
	"testing"
)

func TestGeodeticToECEFRadii(t *testing.T) {
	eq := GeodeticToECEF(Geodetic{Lat: 0, Lon: 0})
	if math.Abs(eq.Norm()-6378.137) > 1e-3 {
		t.Errorf("equatorial radius = %.4f km, want 6378.137", eq.Norm())
	}
	pole := GeodeticToECEF(Geodetic{Lat: 90, Lon: 0})
	if math.Abs(pole.Norm()-6356.7523) > 1e-3 {
		t.Errorf("polar radius = %.4f km, want 6356.752", pole.Norm())
	}
	high := GeodeticToECEF(Geodetic{Lat: 0, Lon: 0, Alt: 0.1})
	if d := high.Norm() - eq.Norm(); math.Abs(d-0.1) > 1e-9 {
		t.Errorf("100 m altitude changed radius by %v km", d)
	}
}

func TestGeodeticRoundTrip(t *testing.T) {
	points := []Geodetic{
		{Lat: 0, Lon: 0, Alt: 0},
		{Lat: 78.23, Lon: 15.39, Alt: 0.5},   // Svalbard
		{Lat: -33.15, Lon: -70.67, Alt: 0.7}, // Santiago
		{Lat: 45, Lon: 179.9, Alt: 720},      // LEO altitude
		{Lat: -89.5, Lon: -120, Alt: 35786},  // near pole, GEO altitude
	}
	for _, p := range points {
		got := ECEFToGeodetic(GeodeticToECEF(p))
		if math.Abs(got.Lat-p.Lat) > 1e-7 || math.Abs(got.Lon-p.Lon) > 1e-7 || math.Abs(got.Alt-p.Alt) > 1e-5 {
			t.Errorf("round trip %+v -> %+v", p, got)
		}
	}
}

func TestLookAtOverhead(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	la := obs.LookAt(Vector{X: obs.ECEF.X + 400, Y: obs.ECEF.Y, Z: obs.ECEF.Z})

	if math.Abs(la.Elevation-90) > 0.1 {
		t.Errorf("elevation = %.3f, want 90", la.Elevation)
	}
	if math.Abs(la.Range-400) > 1e-6 {
		t.Errorf("range = %.3f km, want 400", la.Range)
	}
}

func TestLookAtAzimuth(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	tests := []struct {
		name   string
		target Geodetic
		wantAz float64
	}{
		{"north", Geodetic{Lat: 10, Lon: 0, Alt: 400}, 0},
		{"east", Geodetic{Lat: 0, Lon: 10, Alt: 400}, 90},
		{"south", Geodetic{Lat: -10, Lon: 0, Alt: 400}, 180},
		{"west", Geodetic{Lat: 0, Lon: -10, Alt: 400}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			la := obs.LookAt(GeodeticToECEF(tt.target))
			diff := math.Abs(la.Azimuth - tt.wantAz)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 1 {
				t.Errorf("azimuth = %.2f, want ~%.0f", la.Azimuth, tt.wantAz)
			}
			if la.Elevation <= 0 {
				t.Errorf("elevation = %.2f, want above horizon", la.Elevation)
			}
		})
	}
}

func TestLookAtBelowHorizon(t *testing.T) {
	obs := NewObserver(0, 0, 0)
	la := obs.LookAt(GeodeticToECEF(Geodetic{Lat: 0, Lon: 180, Alt: 400}))
	if la.Elevation > -45 {
		t.Errorf("antipodal elevation = %.2f, want well below horizon", la.Elevation)
	}
}

func TestLookAtNaNTarget(t *testing.T) {
	la := NewObserver(10, 10, 0).LookAt(NaNVector())
	if !math.IsNaN(la.Elevation) {
		t.Errorf("elevation = %v, want NaN", la.Elevation)
	}
}
