package transform

import "math"

// WGS-84 ellipsoid, kilometres.
const (
	wgs84A  = 6378.137
	wgs84F  = 1 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Geodetic is a WGS-84 position: degrees and kilometres above the ellipsoid.
type Geodetic struct {
	Lat, Lon, Alt float64
}

// GeodeticToECEF converts a geodetic position to Earth-fixed coordinates.
func GeodeticToECEF(g Geodetic) Vector {
	lat, lon := g.Lat*deg2rad, g.Lon*deg2rad
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)

	n := primeVerticalRadius(sinLat)
	return Vector{
		X: (n + g.Alt) * cosLat * cosLon,
		Y: (n + g.Alt) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + g.Alt) * sinLat,
	}
}

// ECEFToGeodetic converts an Earth-fixed position to geodetic coordinates.
// Latitude is found by fixed-point iteration, which settles in a handful of
// steps for anything from the surface to GEO.
func ECEFToGeodetic(v Vector) Geodetic {
	lon := math.Atan2(v.Y, v.X)
	p := math.Hypot(v.X, v.Y)

	lat := math.Atan2(v.Z, p*(1-wgs84E2))
	for i := 0; i < 6; i++ {
		n := primeVerticalRadius(math.Sin(lat))
		lat = math.Atan2(v.Z+wgs84E2*n*math.Sin(lat), p)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := primeVerticalRadius(sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(v.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return Geodetic{Lat: lat * rad2deg, Lon: lon * rad2deg, Alt: alt}
}

func primeVerticalRadius(sinLat float64) float64 {
	return wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
}
