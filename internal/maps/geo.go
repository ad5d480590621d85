// README: Straight-line routing fallback for when no Maps API key is configured.
package maps

import (
	"context"
	"math"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

const (
	earthRadiusKm = 6371.0
	// roadFactor stretches great-circle distance toward typical road distance.
	roadFactor = 1.3
	cityKmh    = 30.0
)

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// StraightLine estimates routes from coordinates alone.
type StraightLine struct{}

func (StraightLine) Route(_ context.Context, from, to types.Place) (Route, error) {
	if from.Point == nil || to.Point == nil {
		return Route{}, apperr.Validation("coordinates are required without a maps api key")
	}
	km := haversineKm(from.Point.Lat, from.Point.Lng, to.Point.Lat, to.Point.Lng) * roadFactor
	return Route{
		DistanceKm:  math.Round(km*100) / 100,
		DurationMin: math.Round(km/cityKmh*60*10) / 10,
	}, nil
}
