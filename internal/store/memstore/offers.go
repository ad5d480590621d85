package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/types"
)

type OfferStore struct {
	db *DB
}

func (s *OfferStore) Get(_ context.Context, id types.ID) (*offer.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[id]
	if !ok {
		return nil, apperr.NotFound("offer %s", id)
	}
	return &o, nil
}

func (s *OfferStore) Submit(_ context.Context, o *offer.Offer, at time.Time) (*offer.Offer, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[o.RequestID]
	if !ok {
		return nil, false, apperr.NotFound("ride request %s", o.RequestID)
	}
	if !r.Open(at) {
		return nil, false, apperr.InvalidState("ride request %s is no longer open", o.RequestID)
	}
	for id, cur := range s.db.offers {
		if cur.RequestID != o.RequestID || cur.DriverID != o.DriverID || !cur.Active() {
			continue
		}
		if cur.Status == offer.StatusCountered {
			return nil, false, apperr.InvalidState("offer %s has an outstanding counter; accept or decline it", id)
		}
		cur.Fare = o.Fare
		cur.Version++
		cur.UpdatedAt = at
		s.db.offers[id] = cur
		return &cur, true, nil
	}
	saved := *o
	saved.Status = offer.StatusPending
	saved.Version = 0
	saved.CreatedAt, saved.UpdatedAt = at, at
	s.db.offers[saved.ID] = saved
	return &saved, false, nil
}

func (s *OfferStore) Transition(_ context.Context, id types.ID, from []offer.Status, to offer.Status, counter *types.Money, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[id]
	if !ok {
		return false, apperr.NotFound("offer %s", id)
	}
	if !slices.Contains(from, o.Status) {
		return false, nil
	}
	o.Status = to
	if counter != nil {
		c := *counter
		o.CounterFare = &c
	}
	o.Version++
	o.UpdatedAt = at
	s.db.offers[id] = o
	return true, nil
}

func (s *OfferStore) ListByRequest(_ context.Context, requestID types.ID) ([]offer.Offer, error) {
	return s.filter(func(o *offer.Offer) bool { return o.RequestID == requestID }), nil
}

func (s *OfferStore) ListByDriver(_ context.Context, driverID types.ID, statuses []offer.Status) ([]offer.Offer, error) {
	return s.filter(func(o *offer.Offer) bool {
		return o.DriverID == driverID && (len(statuses) == 0 || slices.Contains(statuses, o.Status))
	}), nil
}

// filter returns matches oldest first.
func (s *OfferStore) filter(keep func(*offer.Offer) bool) []offer.Offer {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []offer.Offer
	for _, o := range s.db.offers {
		if keep(&o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
