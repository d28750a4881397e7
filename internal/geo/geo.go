package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"fleet-monitor/telematics/internal/domain"
)

const earthRadiusM = 6371000.0

// StopGeohashPrecision gives cells of roughly 150 m, close enough to group
// repeat stops at the same yard or customer site.
const StopGeohashPrecision = 7

// HaversineM returns the great-circle distance in metres.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineM(lat1, lon1, lat2, lon2) / 1000
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// InPolygon reports whether the point lies inside the ring using ray
// casting. The ring may be open or closed. Fewer than three vertices is
// never inside.
func InPolygon(lat, lon float64, ring []domain.LatLon) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := ring[i].Lat, ring[i].Lon
		yj, xj := ring[j].Lat, ring[j].Lon
		if (yi > lat) != (yj > lat) && lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Contains reports whether the point is inside the geofence.
func Contains(g domain.Geofence, lat, lon float64) bool {
	switch g.Shape {
	case domain.ShapePolygon:
		return InPolygon(lat, lon, g.Polygon)
	default:
		return HaversineM(g.Center.Lat, g.Center.Lon, lat, lon) <= g.RadiusM
	}
}

func Geohash(lat, lon float64) string {
	return geohash.EncodeWithPrecision(lat, lon, StopGeohashPrecision)
}

// ValidCoordinate reports whether lat/lon are finite and in range.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
