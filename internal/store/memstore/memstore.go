// README: In-memory stores for every collection, guarded by one mutex so the match commit is atomic.
package memstore

import (
	"sort"
	"sync"
	"time"

	"ridemarket/internal/modules/driver"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type DB struct {
	mu       sync.Mutex
	requests map[types.ID]request.RideRequest
	offers   map[types.ID]offer.Offer
	rides    map[types.ID]ride.Ride
	events   []ride.Event
	profiles map[types.ID]driver.Profile
}

func New() *DB {
	return &DB{
		requests: make(map[types.ID]request.RideRequest),
		offers:   make(map[types.ID]offer.Offer),
		rides:    make(map[types.ID]ride.Ride),
		profiles: make(map[types.ID]driver.Profile),
	}
}

func (db *DB) Requests() *RequestStore { return &RequestStore{db: db} }
func (db *DB) Offers() *OfferStore     { return &OfferStore{db: db} }
func (db *DB) Rides() *RideStore       { return &RideStore{db: db} }
func (db *DB) Drivers() *DriverStore   { return &DriverStore{db: db} }

// declineOpenOffers must be called with db.mu held.
func (db *DB) declineOpenOffers(requestID, except types.ID, at time.Time) []offer.Offer {
	var out []offer.Offer
	for id, o := range db.offers {
		if o.RequestID != requestID || id == except || !o.Active() {
			continue
		}
		o.Status = offer.StatusDeclined
		o.Version++
		o.UpdatedAt = at
		db.offers[id] = o
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
