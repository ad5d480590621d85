package memstore

import (
	"context"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/types"
)

type DriverStore struct {
	db *DB
}

func (s *DriverStore) GetProfile(_ context.Context, driverID types.ID) (*driver.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.profiles[driverID]
	if !ok {
		return nil, apperr.NotFound("driver %s", driverID)
	}
	return &p, nil
}

func (s *DriverStore) SetStatus(_ context.Context, driverID types.ID, status driver.VerificationStatus) (*driver.Profile, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p := driver.Profile{DriverID: driverID, Status: status, UpdatedAt: time.Now().UTC()}
	s.db.profiles[driverID] = p
	return &p, nil
}
