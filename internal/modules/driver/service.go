// README: Driver service; admin review of verification status.
package driver

import (
	"context"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/logger"
	"ridemarket/internal/types"
)

type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: logger.OrNop(log)}
}

func (s *Service) Get(ctx context.Context, driverID types.ID) (*Profile, error) {
	p, err := s.store.GetProfile(ctx, driverID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return p, nil
}

func (s *Service) SetStatus(ctx context.Context, actor types.Actor, driverID types.ID, status VerificationStatus) (*Profile, error) {
	if !actor.Is(types.RoleAdmin) {
		return nil, apperr.Forbidden("only admins review driver applications")
	}
	if driverID == "" || !status.Valid() {
		return nil, apperr.Validation("unknown verification status %q", status)
	}
	p, err := s.store.SetStatus(ctx, driverID, status)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	s.log.Info("driver verification updated",
		logger.ID("driver_id", driverID),
		logger.String("status", string(status)),
		logger.Actor(actor),
	)
	return p, nil
}
