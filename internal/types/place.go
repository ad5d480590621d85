// README: Geographic value objects shared by requests and rides.
package types

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a free-text address with optional coordinates from the geocoder.
type Place struct {
	Address string `json:"address"`
	Point   *Point `json:"point,omitempty"`
}

func (p Place) IsZero() bool {
	return p.Address == ""
}

// LatLng splits the optional point into nullable columns.
func (p Place) LatLng() (lat, lng *float64) {
	if p.Point == nil {
		return nil, nil
	}
	la, ln := p.Point.Lat, p.Point.Lng
	return &la, &ln
}

// PlaceAt is the inverse of LatLng.
func PlaceAt(address string, lat, lng *float64) Place {
	p := Place{Address: address}
	if lat != nil && lng != nil {
		p.Point = &Point{Lat: *lat, Lng: *lng}
	}
	return p
}

// NewPlace is a place with known coordinates.
func NewPlace(address string, lat, lng float64) Place {
	return Place{Address: address, Point: &Point{Lat: lat, Lng: lng}}
}
