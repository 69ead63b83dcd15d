package transform

import "math"

// Observer is a ground station with its Earth-fixed position and local
// rotation terms precomputed, so one Observer can be reused for every
// sample of a horizon.
type Observer struct {
	Geodetic Geodetic
	ECEF     Vector

	sinLat, cosLat float64
	sinLon, cosLon float64
}

// NewObserver builds an Observer from latitude and longitude in degrees and
// altitude in kilometres.
func NewObserver(latDeg, lonDeg, altKm float64) Observer {
	g := Geodetic{Lat: latDeg, Lon: lonDeg, Alt: altKm}
	o := Observer{Geodetic: g, ECEF: GeodeticToECEF(g)}
	o.sinLat, o.cosLat = math.Sincos(latDeg * deg2rad)
	o.sinLon, o.cosLon = math.Sincos(lonDeg * deg2rad)
	return o
}

// LookAngle is the direction and distance from an observer to a target.
type LookAngle struct {
	Azimuth   float64 // degrees, 0 = North, clockwise, [0, 360)
	Elevation float64 // degrees above the local horizon
	Range     float64 // km
}

// LookAt returns the look angle to an Earth-fixed target. The range vector
// is rotated into the South-East-Zenith frame (Vallado §4.4).
func (o Observer) LookAt(target Vector) LookAngle {
	r := target.Sub(o.ECEF)

	south := o.sinLat*o.cosLon*r.X + o.sinLat*o.sinLon*r.Y - o.cosLat*r.Z
	east := -o.sinLon*r.X + o.cosLon*r.Y
	zenith := o.cosLat*o.cosLon*r.X + o.cosLat*o.sinLon*r.Y + o.sinLat*r.Z

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngle{Elevation: 90}
	}

	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngle{
		Azimuth:   az * rad2deg,
		Elevation: math.Asin(zenith/rng) * rad2deg,
		Range:     rng,
	}
}
