// Package geomath computes great-circle distances and bearings on a spherical
// Earth. Distances use the haversine formula with a 6371 km mean radius so
// results match the dashboard's original distance helper.
package geomath

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/couchcryptid/quake-alert-service/internal/domain"
)

// EarthRadiusKm is the mean Earth radius used for all distance calculations.
const EarthRadiusKm = 6371.0

// compassPoints are the 16 NWS-style compass directions, clockwise from north.
var compassPoints = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// DistanceKm returns the haversine great-circle distance between a and b.
//
//	a = sin²(Δlat/2) + cos(lat1)·cos(lat2)·sin²(Δlon/2)
//	d = 2R·atan2(√a, √(1-a))
func DistanceKm(a, b domain.Geo) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Within reports whether p lies within radiusKm of center (inclusive).
func Within(center, p domain.Geo, radiusKm float64) bool {
	return DistanceKm(center, p) <= radiusKm
}

// BearingDeg returns the initial bearing from a to b in degrees, normalized to [0, 360).
func BearingDeg(a, b domain.Geo) float64 {
	deg := geo.Bearing(toPoint(a), toPoint(b))
	if deg < 0 {
		deg += 360
	}
	return math.Mod(deg, 360)
}

// Compass converts a bearing in degrees to one of 16 compass points.
func Compass(bearingDeg float64) string {
	b := math.Mod(bearingDeg, 360)
	if b < 0 {
		b += 360
	}
	idx := int(math.Floor(b/22.5+0.5)) % len(compassPoints)
	return compassPoints[idx]
}

func toPoint(g domain.Geo) orb.Point {
	return orb.Point{g.Lng, g.Lat}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
