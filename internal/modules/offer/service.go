// README: Offer ledger; submit, counter, decline, and accept via the request tracker.
package offer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/observability"
	"ridemarket/internal/types"
)

type Store interface {
	Get(ctx context.Context, id types.ID) (*Offer, error)
	// Submit inserts o, or replaces the fare of the same driver's pending
	// offer on the request. It re-checks that the request is open at `at`
	// and fails with ErrInvalidState when it is not or when the driver's
	// active offer is countered.
	Submit(ctx context.Context, o *Offer, at time.Time) (saved *Offer, replaced bool, err error)
	// Transition moves the offer to `to` if its status is one of from.
	Transition(ctx context.Context, id types.ID, from []Status, to Status, counter *types.Money, at time.Time) (bool, error)
	ListByRequest(ctx context.Context, requestID types.ID) ([]Offer, error)
	ListByDriver(ctx context.Context, driverID types.ID, statuses []Status) ([]Offer, error)
}

type Tracker interface {
	Lookup(ctx context.Context, requestID types.ID) (RequestInfo, error)
	// MatchOfferVersion matches only while the offer is still at version.
	MatchOfferVersion(ctx context.Context, requestID, offerID types.ID, version int, actor types.Actor) (*ride.Ride, error)
}

type DriverGate interface {
	Require(ctx context.Context, driverID types.ID) error
}

type Service struct {
	store   Store
	tracker Tracker
	gate    DriverGate
	feed    feed.Publisher
	log     *zap.Logger
	now     func() time.Time
}

func NewService(store Store, tracker Tracker, gate DriverGate, pub feed.Publisher, log *zap.Logger) *Service {
	return &Service{
		store:   store,
		tracker: tracker,
		gate:    gate,
		feed:    pub,
		log:     logger.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for offer timestamps and the
// request-open re-check.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SubmitOffer records a driver's price. A driver keeps one active offer per
// request: resubmitting replaces the fare of a pending offer and is rejected
// while the rider's counter is outstanding.
func (s *Service) SubmitOffer(ctx context.Context, requestID types.ID, driver types.Actor, fare types.Money) (*Offer, error) {
	if !driver.Is(types.RoleDriver) {
		return nil, apperr.Forbidden("only drivers submit offers")
	}
	if err := s.gate.Require(ctx, driver.ID); err != nil {
		return nil, err
	}
	if !fare.IsPositive() {
		return nil, apperr.Validation("offered fare must be greater than zero")
	}
	req, err := s.tracker.Lookup(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Open {
		return nil, apperr.InvalidState("ride request %s is %s", requestID, req.Status)
	}
	if fare.Currency == "" {
		fare.Currency = req.Currency
	}
	if fare.Currency != req.Currency {
		return nil, apperr.Validation("offer currency %s does not match request currency %s", fare.Currency, req.Currency)
	}

	now := s.now()
	saved, replaced, err := s.store.Submit(ctx, &Offer{
		ID:        types.NewID(),
		RequestID: requestID,
		DriverID:  driver.ID,
		Fare:      fare,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, now)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}

	op, action := feed.OpInsert, "submitted"
	if replaced {
		op, action = feed.OpUpdate, "replaced"
	}
	observability.OfferActions.WithLabelValues(action).Inc()
	s.log.Info("offer "+action,
		logger.ID("offer_id", saved.ID),
		logger.ID("request_id", requestID),
		logger.ID("driver_id", driver.ID),
		logger.Int64("fare", fare.Amount),
	)
	feed.Emit(ctx, s.feed, s.log, changeEvent(saved, req.RiderID, op))
	return saved, nil
}

// AcceptOffer resolves the negotiation through the tracker's match. The rider
// accepts a pending offer; the driver accepts the rider's counter. version is
// the offer version the caller was shown; a repriced or countered offer has
// moved on and is rejected with ErrInvalidState.
func (s *Service) AcceptOffer(ctx context.Context, offerID types.ID, version int, actor types.Actor) (*ride.Ride, error) {
	o, err := s.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if !o.Active() {
		return nil, apperr.InvalidState("offer %s is %s", offerID, o.Status)
	}
	if o.Version != version {
		return nil, apperr.InvalidState("offer %s changed since version %d; now %s at version %d", offerID, version, o.AgreedFare(), o.Version)
	}
	return s.tracker.MatchOfferVersion(ctx, o.RequestID, o.ID, version, actor)
}

// CounterOffer is the rider's single counter round on a pending offer.
func (s *Service) CounterOffer(ctx context.Context, offerID types.ID, counter types.Money, actor types.Actor) (*Offer, error) {
	if !actor.Is(types.RoleRider) {
		return nil, apperr.Forbidden("only the rider can counter an offer")
	}
	if !counter.IsPositive() {
		return nil, apperr.Validation("counter fare must be greater than zero")
	}
	o, req, err := s.load(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if req.RiderID != actor.ID {
		return nil, apperr.Forbidden("rider %s does not own request %s", actor.ID, req.ID)
	}
	if counter.Currency == "" {
		counter.Currency = o.Fare.Currency
	}
	if counter.Currency != o.Fare.Currency {
		return nil, apperr.Validation("counter currency %s does not match offer currency %s", counter.Currency, o.Fare.Currency)
	}
	if !req.Open {
		return nil, apperr.InvalidState("ride request %s is %s", req.ID, req.Status)
	}
	if o.Status != StatusPending {
		return nil, apperr.InvalidState("offer %s is %s; only pending offers can be countered", o.ID, o.Status)
	}
	return s.transition(ctx, o, req, []Status{StatusPending}, StatusCountered, &counter, "countered")
}

// DeclineOffer is open to the request's rider, the offer's driver and admins.
func (s *Service) DeclineOffer(ctx context.Context, offerID types.ID, actor types.Actor) (*Offer, error) {
	if actor.Is(types.RoleDriver) {
		if err := s.gate.Require(ctx, actor.ID); err != nil {
			return nil, err
		}
	}
	o, req, err := s.load(ctx, offerID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Is(types.RoleAdmin):
	case actor.Is(types.RoleRider) && req.RiderID == actor.ID:
	case actor.Is(types.RoleDriver) && o.DriverID == actor.ID:
	default:
		return nil, apperr.Forbidden("%s %s cannot decline offer %s", actor.Role, actor.ID, o.ID)
	}
	if !o.Active() {
		return nil, apperr.InvalidState("offer %s is already %s", o.ID, o.Status)
	}
	return s.transition(ctx, o, req, ActiveStatuses, StatusDeclined, nil, "declined")
}

func (s *Service) transition(ctx context.Context, o *Offer, req RequestInfo, from []Status, to Status, counter *types.Money, action string) (*Offer, error) {
	now := s.now()
	ok, err := s.store.Transition(ctx, o.ID, from, to, counter, now)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if !ok {
		cur, err := s.Get(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("offer %s is now %s", o.ID, cur.Status)
	}
	next := *o
	next.Status = to
	next.Version++
	next.UpdatedAt = now
	if counter != nil {
		next.CounterFare = counter
	}
	observability.OfferActions.WithLabelValues(action).Inc()
	s.log.Info("offer "+action, logger.ID("offer_id", o.ID), logger.ID("request_id", o.RequestID))
	feed.Emit(ctx, s.feed, s.log, changeEvent(&next, req.RiderID, feed.OpUpdate))
	return &next, nil
}

func (s *Service) load(ctx context.Context, offerID types.ID) (*Offer, RequestInfo, error) {
	o, err := s.Get(ctx, offerID)
	if err != nil {
		return nil, RequestInfo{}, err
	}
	req, err := s.tracker.Lookup(ctx, o.RequestID)
	if err != nil {
		return nil, RequestInfo{}, err
	}
	return o, req, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Offer, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return o, nil
}

// ListByRequest returns every offer to the request's rider or an admin, and
// only the caller's own offers to a driver.
func (s *Service) ListByRequest(ctx context.Context, requestID types.ID, actor types.Actor) ([]Offer, error) {
	req, err := s.tracker.Lookup(ctx, requestID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	switch {
	case actor.Is(types.RoleAdmin), actor.Is(types.RoleRider) && req.RiderID == actor.ID:
		return all, nil
	case actor.Is(types.RoleDriver):
		own := make([]Offer, 0, 1)
		for _, o := range all {
			if o.DriverID == actor.ID {
				own = append(own, o)
			}
		}
		return own, nil
	default:
		return nil, apperr.Forbidden("%s %s cannot view offers on request %s", actor.Role, actor.ID, requestID)
	}
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID, statuses []Status) ([]Offer, error) {
	offers, err := s.store.ListByDriver(ctx, driverID, statuses)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return offers, nil
}

func changeEvent(o *Offer, riderID types.ID, op feed.Op) feed.Event {
	return feed.Event{
		Collection: feed.Offers,
		Op:         op,
		ID:         o.ID,
		Status:     string(o.Status),
		RiderID:    riderID,
		DriverID:   o.DriverID,
		RequestID:  o.RequestID,
		At:         o.UpdatedAt,
	}
}

// ChangeEvent is used by the tracker when a match or cancellation resolves
// offers in bulk.
func ChangeEvent(id, requestID, riderID, driverID types.ID, status Status) feed.Event {
	return changeEvent(&Offer{ID: id, RequestID: requestID, DriverID: driverID, Status: status}, riderID, feed.OpUpdate)
}
