package utils

import "math"

const earthRadiusKm = 6371.0

func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLon := degreesToRadians(lon2 - lon1)

	lat1R := degreesToRadians(lat1)
	lat2R := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1R)*math.Cos(lat2R)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}

// BoundingBox returns the lat/lng box that contains every point within
// radiusKm of the center. Used as a cheap prefilter before HaversineKm.
func BoundingBox(lat, lon, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cosLat := math.Cos(degreesToRadians(lat))
	dLon := 180.0
	if cosLat > 1e-9 {
		dLon = math.Min(180, dLat/cosLat)
	}
	return lat - dLat, lat + dLat, lon - dLon, lon + dLon
}

// LongitudeRanges splits a box's longitude span into at most two ranges
// inside [-180, 180], wrapping across the antimeridian.
func LongitudeRanges(minLon, maxLon float64) [][2]float64 {
	switch {
	case maxLon-minLon >= 360:
		return [][2]float64{{-180, 180}}
	case minLon < -180:
		return [][2]float64{{minLon + 360, 180}, {-180, maxLon}}
	case maxLon > 180:
		return [][2]float64{{minLon, 180}, {-180, maxLon - 360}}
	}
	return [][2]float64{{minLon, maxLon}}
}
