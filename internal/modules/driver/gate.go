// README: Availability gate; every driver-facing operation calls Require first.
package driver

import (
	"context"
	"errors"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

type Store interface {
	GetProfile(ctx context.Context, driverID types.ID) (*Profile, error)
	SetStatus(ctx context.Context, driverID types.ID, status VerificationStatus) (*Profile, error)
}

type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// Require fails with ErrForbidden unless the driver is approved. A driver
// with no application on file is treated as pending.
func (g *Gate) Require(ctx context.Context, driverID types.ID) error {
	if driverID == "" {
		return apperr.Forbidden("driver identity is required")
	}
	p, err := g.store.GetProfile(ctx, driverID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.Forbidden("driver %s has no approved application", driverID)
	}
	if err != nil {
		return apperr.Unavailable(err)
	}
	if !CanAct(*p) {
		return apperr.Forbidden("driver %s verification is %s", driverID, p.Status)
	}
	return nil
}
