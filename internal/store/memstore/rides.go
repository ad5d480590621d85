package memstore

import (
	"context"
	"slices"
	"sort"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type RideStore struct {
	db *DB
}

func (s *RideStore) Create(_ context.Context, r *ride.Ride) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.rides[r.ID]; ok {
		return apperr.InvalidState("ride %s already exists", r.ID)
	}
	s.db.rides[r.ID] = *r
	return nil
}

func (s *RideStore) Get(_ context.Context, id types.ID) (*ride.Ride, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rides[id]
	if !ok {
		return nil, apperr.NotFound("ride %s", id)
	}
	return &r, nil
}

func (s *RideStore) Update(_ context.Context, r *ride.Ride, fromStatus ride.Status, fromVersion int) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.rides[r.ID]
	if !ok || cur.Status != fromStatus || cur.StatusVersion != fromVersion {
		return false, nil
	}
	next := *r
	next.StatusVersion = fromVersion + 1
	s.db.rides[r.ID] = next
	return true, nil
}

func (s *RideStore) AppendEvent(_ context.Context, e *ride.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	ev := *e
	ev.ID = int64(len(s.db.events) + 1)
	s.db.events = append(s.db.events, ev)
	return nil
}

func (s *RideStore) History(_ context.Context, rideID types.ID) ([]ride.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []ride.Event
	for _, e := range s.db.events {
		if e.RideID == rideID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *RideStore) ListByParticipant(_ context.Context, userID types.ID, statuses []ride.Status) ([]ride.Ride, error) {
	return s.filter(0, func(r *ride.Ride) bool {
		return (r.RiderID == userID || r.HasDriver(userID)) && slices.Contains(statuses, r.Status)
	}), nil
}

func (s *RideStore) ListByStatus(_ context.Context, statuses []ride.Status, limit int) ([]ride.Ride, error) {
	return s.filter(limit, func(r *ride.Ride) bool { return slices.Contains(statuses, r.Status) }), nil
}

func (s *RideStore) ListCompletedByDriver(_ context.Context, driverID types.ID, since time.Time) ([]ride.Ride, error) {
	return s.filter(0, func(r *ride.Ride) bool {
		return r.HasDriver(driverID) && r.Status == ride.StatusCompleted &&
			r.CompletedAt != nil && !r.CompletedAt.Before(since)
	}), nil
}

func (s *RideStore) CountByStatus(_ context.Context) (map[ride.Status]int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make(map[ride.Status]int)
	for _, r := range s.db.rides {
		out[r.Status]++
	}
	return out, nil
}

// filter returns matches newest first.
func (s *RideStore) filter(limit int, keep func(*ride.Ride) bool) []ride.Ride {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []ride.Ride
	for _, r := range s.db.rides {
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
