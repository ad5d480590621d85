package memstore

import (
	"context"
	"sort"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/types"
)

type RequestStore struct {
	db *DB
}

func (s *RequestStore) Create(_ context.Context, r *request.RideRequest) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.requests[r.ID]; ok {
		return apperr.InvalidState("ride request %s already exists", r.ID)
	}
	s.db.requests[r.ID] = *r
	return nil
}

func (s *RequestStore) Get(_ context.Context, id types.ID) (*request.RideRequest, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.requests[id]
	if !ok {
		return nil, apperr.NotFound("ride request %s", id)
	}
	return &r, nil
}

func (s *RequestStore) Close(_ context.Context, id types.ID, to request.Status, reason *string, at time.Time) ([]offer.Offer, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.requests[id]
	if !ok {
		return nil, false, apperr.NotFound("ride request %s", id)
	}
	if r.Status != request.StatusSearching {
		return nil, false, nil
	}
	switch to {
	case request.StatusCancelled:
		if r.Expired(at) {
			return nil, false, nil
		}
	case request.StatusExpired:
		if !r.Expired(at) {
			return nil, false, nil
		}
	default:
		return nil, false, apperr.InvalidState("requests are not closed as %s", to)
	}
	r.Status = to
	r.CancelReason = reason
	r.UpdatedAt = at
	s.db.requests[id] = r
	return s.db.declineOpenOffers(id, "", at), true, nil
}

func (s *RequestStore) CommitMatch(_ context.Context, m request.Match) ([]offer.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	r, ok := s.db.requests[m.RequestID]
	if !ok {
		return nil, apperr.NotFound("ride request %s", m.RequestID)
	}
	switch {
	case r.Status == request.StatusMatched:
		return nil, apperr.AlreadyMatched("ride request %s was already accepted", m.RequestID)
	case r.Status != request.StatusSearching:
		return nil, apperr.InvalidState("ride request %s is %s", m.RequestID, r.Status)
	case r.Expired(m.At):
		return nil, apperr.InvalidState("ride request %s expired at %s", m.RequestID, r.ExpiresAt.Format(time.RFC3339))
	}
	o, ok := s.db.offers[m.OfferID]
	if !ok || o.RequestID != m.RequestID {
		return nil, apperr.NotFound("offer %s on ride request %s", m.OfferID, m.RequestID)
	}
	if !o.Active() {
		return nil, apperr.InvalidState("offer %s is %s", m.OfferID, o.Status)
	}
	if o.Version != m.OfferVersion {
		return nil, apperr.InvalidState("offer %s changed before it was accepted; review it again", m.OfferID)
	}
	if _, exists := s.db.rides[m.Ride.ID]; exists {
		return nil, apperr.InvalidState("ride %s already exists", m.Ride.ID)
	}

	rideID := m.Ride.ID
	r.Status = request.StatusMatched
	r.MatchedRideID = &rideID
	r.UpdatedAt = m.At
	s.db.requests[r.ID] = r

	o.Status = offer.StatusAccepted
	o.Version++
	o.UpdatedAt = m.At
	s.db.offers[o.ID] = o

	declined := s.db.declineOpenOffers(m.RequestID, m.OfferID, m.At)
	s.db.rides[m.Ride.ID] = *m.Ride
	return declined, nil
}

func (s *RequestStore) ListOpen(_ context.Context, at time.Time, limit int) ([]request.RideRequest, error) {
	return s.filter(limit, func(r *request.RideRequest) bool { return r.Open(at) }), nil
}

func (s *RequestStore) ListByRider(_ context.Context, riderID types.ID) ([]request.RideRequest, error) {
	return s.filter(0, func(r *request.RideRequest) bool { return r.RiderID == riderID }), nil
}

func (s *RequestStore) ListExpired(_ context.Context, at time.Time, limit int) ([]request.RideRequest, error) {
	return s.filter(limit, func(r *request.RideRequest) bool { return r.Expired(at) }), nil
}

func (s *RequestStore) CountByStatus(_ context.Context, at time.Time) (map[request.Status]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[request.Status]int)
	for _, r := range s.db.requests {
		out[r.EffectiveStatus(at)]++
	}
	return out, nil
}

// filter returns matches newest first.
func (s *RequestStore) filter(limit int, keep func(*request.RideRequest) bool) []request.RideRequest {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []request.RideRequest
	for _, r := range s.db.requests {
		if keep(&r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
