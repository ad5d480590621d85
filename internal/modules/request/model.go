// README: Ride request aggregate; the rider's solicitation before a match.
package request

import (
	"time"

	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type Status string

const (
	StatusSearching Status = "searching"
	StatusMatched   Status = "matched"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type RideType string

const (
	RideStandard RideType = "standard"
	RidePremium  RideType = "premium"
	RideShared   RideType = "shared"
)

func (t RideType) Valid() bool {
	return t == RideStandard || t == RidePremium || t == RideShared
}

type RideRequest struct {
	ID            types.ID           `json:"id"`
	RiderID       types.ID           `json:"rider_id"`
	Pickup        types.Place        `json:"pickup"`
	Dropoff       types.Place        `json:"dropoff"`
	FareMin       types.Money        `json:"fare_min"`
	FareMax       types.Money        `json:"fare_max"`
	DistanceKm    float64            `json:"distance_km"`
	DurationMin   float64            `json:"duration_min"`
	RideType      RideType           `json:"ride_type"`
	PaymentMethod ride.PaymentMethod `json:"payment_method"`
	Notes         string             `json:"notes,omitempty"`
	Status        Status             `json:"status"`
	MatchedRideID *types.ID          `json:"matched_ride_id,omitempty"`
	CancelReason  *string            `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Expired reports whether a searching request has passed its expiry at now.
func (r *RideRequest) Expired(now time.Time) bool {
	return r.Status == StatusSearching && now.After(r.ExpiresAt)
}

// Open reports whether offers and matches are still accepted at now.
func (r *RideRequest) Open(now time.Time) bool {
	return r.Status == StatusSearching && !now.After(r.ExpiresAt)
}

// EffectiveStatus is the status every reader sees: searching requests past
// their expiry read as expired even before the write lands.
func (r *RideRequest) EffectiveStatus(now time.Time) Status {
	if r.Expired(now) {
		return StatusExpired
	}
	return r.Status
}

// Match is one atomic store commit: the request becomes matched, the offer
// accepted, the request's other open offers declined, and the ride created.
type Match struct {
	RequestID    types.ID
	OfferID      types.ID
	OfferVersion int
	Ride         *ride.Ride
	At           time.Time
}
