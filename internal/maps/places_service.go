package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

// PlacesService resolves addresses to coordinates and back with the Google
// Geocoding API.
type PlacesService struct {
	client *maps.Client
}

// NewPlacesService creates a new PlacesService with the given API Key. Extra
// client options (e.g. maps.WithBaseURL) are passed through.
func NewPlacesService(apiKey string, opts ...maps.ClientOption) (*PlacesService, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client}, nil
}

// Geocode returns the best match for address with its coordinates.
func (s *PlacesService) Geocode(ctx context.Context, address string) (types.Place, error) {
	if address == "" {
		return types.Place{}, apperr.Validation("address is required")
	}
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return types.Place{}, apperr.Unavailable(fmt.Errorf("geocoding api error: %w", err))
	}
	if len(results) == 0 {
		return types.Place{}, apperr.NotFound("no match for address %q", address)
	}
	r := results[0]
	return types.NewPlace(r.FormattedAddress, r.Geometry.Location.Lat, r.Geometry.Location.Lng), nil
}

// Reverse returns the formatted address nearest to a point.
func (s *PlacesService) Reverse(ctx context.Context, lat, lng float64) (types.Place, error) {
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{LatLng: &maps.LatLng{Lat: lat, Lng: lng}})
	if err != nil {
		return types.Place{}, apperr.Unavailable(fmt.Errorf("geocoding api error: %w", err))
	}
	if len(results) == 0 {
		return types.Place{}, apperr.NotFound("no address near %.6f,%.6f", lat, lng)
	}
	return types.NewPlace(results[0].FormattedAddress, lat, lng), nil
}

// Resolve fills in whatever the place is missing: coordinates for an
// address, or an address for coordinates.
func (s *PlacesService) Resolve(ctx context.Context, p types.Place) (types.Place, error) {
	switch {
	case p.Point != nil && p.Address != "":
		return p, nil
	case p.Point != nil:
		return s.Reverse(ctx, p.Point.Lat, p.Point.Lng)
	default:
		g, err := s.Geocode(ctx, p.Address)
		if err != nil {
			return types.Place{}, err
		}
		g.Address = p.Address
		return g, nil
	}
}
