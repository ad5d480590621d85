package maps

import (
	"context"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

// Route is a driving estimate between two places.
type Route struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin float64 `json:"duration_min"`
}

type Router interface {
	Route(ctx context.Context, from, to types.Place) (Route, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts ...maps.ClientOption) (*RouteService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

func waypoint(p types.Place) string {
	if p.Point != nil {
		return strconv.FormatFloat(p.Point.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Point.Lng, 'f', 6, 64)
	}
	return p.Address
}

// Route returns the distance and duration of the first driving route.
func (s *RouteService) Route(ctx context.Context, from, to types.Place) (Route, error) {
	if from.IsZero() || to.IsZero() {
		return Route{}, apperr.Validation("origin and destination are required")
	}
	r := &maps.DirectionsRequest{
		Origin:      waypoint(from),
		Destination: waypoint(to),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, apperr.Unavailable(fmt.Errorf("maps api error: %w", err))
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, apperr.NotFound("no route found")
	}

	leg := routes[0].Legs[0]
	return Route{
		DistanceKm:  float64(leg.Distance.Meters) / 1000,
		DurationMin: leg.Duration.Minutes(),
	}, nil
}
