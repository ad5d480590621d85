// README: Payment collaborator adapter; turns settlements into ride payment confirmations.
package payment

import (
	"context"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type Settler interface {
	ConfirmPayment(ctx context.Context, st ride.Settlement, actor types.Actor) (*ride.Ride, error)
}

// EventParser verifies and decodes a provider webhook. ok is false for
// events that carry no settlement.
type EventParser interface {
	Parse(payload []byte, signature string) (st ride.Settlement, ok bool, err error)
}

type Service struct {
	rides  Settler
	parser EventParser
	log    *zap.Logger
}

func NewService(rides Settler, parser EventParser, log *zap.Logger) *Service {
	return &Service{rides: rides, parser: parser, log: logger.OrNop(log)}
}

// Settle forwards a settlement reported by an admin or the system.
func (s *Service) Settle(ctx context.Context, st ride.Settlement, actor types.Actor) (*ride.Ride, error) {
	r, err := s.rides.ConfirmPayment(ctx, st, actor)
	if err != nil {
		s.log.Warn("settlement rejected",
			logger.ID("ride_id", st.RideID),
			logger.String("reference", st.Reference),
			logger.Err(err),
		)
		return nil, err
	}
	s.log.Info("settlement applied",
		logger.ID("ride_id", r.ID),
		logger.String("payment_status", string(r.PaymentStatus)),
		logger.Int64("final_fare", r.FinalFare.Amount),
	)
	return r, nil
}

// Rejection is a verified webhook event that cannot be applied: a bad
// payload or a settlement the ride lifecycle refused. Redelivery would fail
// the same way, so callers acknowledge it.
type Rejection struct {
	RideID types.ID
	Err    error
}

func (r *Rejection) Error() string {
	if r.RideID == "" {
		return "webhook event rejected: " + r.Err.Error()
	}
	return "webhook event for ride " + string(r.RideID) + " rejected: " + r.Err.Error()
}

func (r *Rejection) Unwrap() error { return r.Err }

// HandleWebhook verifies a provider callback and applies it as the system
// actor. Events without a settlement return (nil, nil). A verified event the
// ride refuses comes back as a *Rejection.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*ride.Ride, error) {
	if s.parser == nil {
		return nil, apperr.Unavailable(errWebhookDisabled)
	}
	st, ok, err := s.parser.Parse(payload, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	r, err := s.Settle(ctx, st, types.System())
	if err != nil && apperr.IsBusiness(err) {
		return nil, &Rejection{RideID: st.RideID, Err: err}
	}
	return r, err
}
