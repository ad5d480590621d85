// README: Ride request tracker; create, cancel, expire, and match to an offer.
package request

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/observability"
	"ridemarket/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *RideRequest) error
	Get(ctx context.Context, id types.ID) (*RideRequest, error)
	// Close moves a searching request to cancelled or expired and declines
	// its open offers. Cancel requires the request unexpired at `at`, expire
	// requires it expired. ok is false when the precondition no longer holds.
	Close(ctx context.Context, id types.ID, to Status, reason *string, at time.Time) (declined []offer.Offer, ok bool, err error)
	// CommitMatch applies m atomically or fails with ErrNotFound,
	// ErrAlreadyMatched or ErrInvalidState without writing anything.
	CommitMatch(ctx context.Context, m Match) (declined []offer.Offer, err error)
	ListOpen(ctx context.Context, at time.Time, limit int) ([]RideRequest, error)
	ListByRider(ctx context.Context, riderID types.ID) ([]RideRequest, error)
	ListExpired(ctx context.Context, at time.Time, limit int) ([]RideRequest, error)
	CountByStatus(ctx context.Context, at time.Time) (map[Status]int, error)
}

type OfferReader interface {
	Get(ctx context.Context, id types.ID) (*offer.Offer, error)
}

type RideRecorder interface {
	RecordCreated(ctx context.Context, r *ride.Ride, actor types.Actor)
}

type DriverGate interface {
	Require(ctx context.Context, driverID types.ID) error
}

// FareEstimator seeds the fare band of a request that arrives without one.
type FareEstimator interface {
	EstimateBand(ctx context.Context, distanceKm, durationMin float64, rideType string) (min, max types.Money, err error)
}

const DefaultTTL = 10 * time.Minute

type Service struct {
	store    Store
	offers   OfferReader
	rides    RideRecorder
	gate     DriverGate
	feed     feed.Publisher
	fares    FareEstimator
	log      *zap.Logger
	ttl      time.Duration
	currency string
	now      func() time.Time
}

type Option func(*Service)

func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithFareEstimator(e FareEstimator) Option {
	return func(s *Service) { s.fares = e }
}

func WithCurrency(c string) Option {
	return func(s *Service) {
		if c != "" {
			s.currency = c
		}
	}
}

func NewService(store Store, offers OfferReader, rides RideRecorder, gate DriverGate, pub feed.Publisher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		offers:   offers,
		rides:    rides,
		gate:     gate,
		feed:     pub,
		log:      logger.OrNop(log),
		ttl:      DefaultTTL,
		currency: "USD",
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateCommand struct {
	Rider         types.Actor
	Pickup        types.Place
	Dropoff       types.Place
	FareMin       types.Money
	FareMax       types.Money
	DistanceKm    float64
	DurationMin   float64
	RideType      RideType
	PaymentMethod ride.PaymentMethod
	Notes         string
}

func (s *Service) CreateRequest(ctx context.Context, cmd CreateCommand) (*RideRequest, error) {
	if !cmd.Rider.Is(types.RoleRider) || cmd.Rider.ID == "" {
		return nil, apperr.Forbidden("only riders create ride requests")
	}
	if cmd.Pickup.IsZero() || cmd.Dropoff.IsZero() {
		return nil, apperr.Validation("pickup and dropoff are required")
	}
	if cmd.RideType == "" {
		cmd.RideType = RideStandard
	}
	if !cmd.RideType.Valid() {
		return nil, apperr.Validation("unknown ride type %q", cmd.RideType)
	}
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = ride.PaymentCard
	}
	if !cmd.PaymentMethod.Valid() {
		return nil, apperr.Validation("unknown payment method %q", cmd.PaymentMethod)
	}
	if cmd.DistanceKm < 0 || cmd.DurationMin < 0 {
		return nil, apperr.Validation("distance and duration cannot be negative")
	}
	if cmd.FareMin.IsZero() && cmd.FareMax.IsZero() && s.fares != nil && cmd.DistanceKm > 0 {
		lo, hi, err := s.fares.EstimateBand(ctx, cmd.DistanceKm, cmd.DurationMin, string(cmd.RideType))
		if err != nil {
			return nil, apperr.Unavailable(err)
		}
		cmd.FareMin, cmd.FareMax = lo, hi
	}
	if err := s.validateBand(&cmd); err != nil {
		return nil, err
	}

	now := s.now()
	r := &RideRequest{
		ID:            types.NewID(),
		RiderID:       cmd.Rider.ID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		FareMin:       cmd.FareMin,
		FareMax:       cmd.FareMax,
		DistanceKm:    cmd.DistanceKm,
		DurationMin:   cmd.DurationMin,
		RideType:      cmd.RideType,
		PaymentMethod: cmd.PaymentMethod,
		Notes:         cmd.Notes,
		Status:        StatusSearching,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, apperr.Unavailable(err)
	}
	observability.RequestTransitions.WithLabelValues(string(StatusSearching)).Inc()
	s.log.Info("ride request created",
		logger.ID("request_id", r.ID),
		logger.ID("rider_id", r.RiderID),
		logger.String("ride_type", string(r.RideType)),
	)
	feed.Emit(ctx, s.feed, s.log, changeEvent(r, feed.OpInsert))
	return r, nil
}

func (s *Service) validateBand(cmd *CreateCommand) error {
	if !cmd.FareMin.IsPositive() || !cmd.FareMax.IsPositive() {
		return apperr.Validation("a positive fare estimate is required")
	}
	if cmd.FareMin.Currency == "" {
		cmd.FareMin.Currency = s.currency
	}
	if cmd.FareMax.Currency == "" {
		cmd.FareMax.Currency = s.currency
	}
	if cmd.FareMin.Currency != cmd.FareMax.Currency {
		return apperr.Validation("fare band mixes currencies")
	}
	if cmd.FareMin.Amount > cmd.FareMax.Amount {
		return apperr.Validation("fare band minimum exceeds maximum")
	}
	return nil
}

// Get returns the request with expiry applied. A searching request past its
// expiry is persisted as expired on the way out.
func (s *Service) Get(ctx context.Context, id types.ID) (*RideRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	now := s.now()
	if r.Expired(now) {
		s.persistExpiry(ctx, r, now)
		r.Status = StatusExpired
	}
	return r, nil
}

// Lookup implements offer.Tracker.
func (s *Service) Lookup(ctx context.Context, id types.ID) (offer.RequestInfo, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return offer.RequestInfo{}, err
	}
	return offer.RequestInfo{
		ID:        r.ID,
		RiderID:   r.RiderID,
		Status:    string(r.Status),
		Open:      r.Open(s.now()),
		Currency:  r.FareMin.Currency,
		ExpiresAt: r.ExpiresAt,
	}, nil
}

func (s *Service) CancelRequest(ctx context.Context, id types.ID, actor types.Actor, reason string) (*RideRequest, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Is(types.RoleAdmin) && !(actor.Is(types.RoleRider) && actor.ID == r.RiderID) {
		return nil, apperr.Forbidden("%s %s cannot cancel request %s", actor.Role, actor.ID, id)
	}
	if r.Status != StatusSearching {
		return nil, apperr.InvalidState("ride request %s is %s", id, r.Status)
	}
	var why *string
	if reason != "" {
		why = &reason
	}
	return s.close(ctx, r, StatusCancelled, why, s.now())
}

// Expire closes a searching request whose expiry has passed.
func (s *Service) Expire(ctx context.Context, id types.ID) (*RideRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	now := s.now()
	if r.Status != StatusSearching {
		return nil, apperr.InvalidState("ride request %s is %s", id, r.Status)
	}
	if !r.Expired(now) {
		return nil, apperr.InvalidState("ride request %s does not expire until %s", id, r.ExpiresAt.Format(time.RFC3339))
	}
	return s.close(ctx, r, StatusExpired, nil, now)
}

func (s *Service) close(ctx context.Context, r *RideRequest, to Status, reason *string, now time.Time) (*RideRequest, error) {
	declined, ok, err := s.store.Close(ctx, r.ID, to, reason, now)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if !ok {
		cur, err := s.Get(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("ride request %s is %s", r.ID, cur.Status)
	}
	next := *r
	next.Status = to
	next.CancelReason = reason
	next.UpdatedAt = now
	s.closed(ctx, &next, declined)
	return &next, nil
}

func (s *Service) persistExpiry(ctx context.Context, r *RideRequest, now time.Time) {
	declined, ok, err := s.store.Close(ctx, r.ID, StatusExpired, nil, now)
	if err != nil {
		s.log.Warn("expiry not persisted", logger.ID("request_id", r.ID), logger.Err(err))
		return
	}
	if ok {
		next := *r
		next.Status = StatusExpired
		next.UpdatedAt = now
		s.closed(ctx, &next, declined)
	}
}

func (s *Service) closed(ctx context.Context, r *RideRequest, declined []offer.Offer) {
	observability.RequestTransitions.WithLabelValues(string(r.Status)).Inc()
	s.log.Info("ride request closed",
		logger.ID("request_id", r.ID),
		logger.String("status", string(r.Status)),
		logger.Int("offers_declined", len(declined)),
	)
	feed.Emit(ctx, s.feed, s.log, changeEvent(r, feed.OpUpdate))
	for _, o := range declined {
		feed.Emit(ctx, s.feed, s.log, offer.ChangeEvent(o.ID, r.ID, r.RiderID, o.DriverID, offer.StatusDeclined))
	}
}

// MatchToOffer accepts offerID for the request and creates the ride. The rider
// (or an admin/system actor) accepts a pending offer; a countered offer is
// accepted by its driver at the counter fare. Exactly one concurrent caller
// wins; the rest get ErrAlreadyMatched.
func (s *Service) MatchToOffer(ctx context.Context, requestID, offerID types.ID, actor types.Actor) (*ride.Ride, error) {
	return s.match(ctx, requestID, offerID, nil, actor)
}

// MatchOfferVersion is MatchToOffer pinned to the offer version the caller
// accepted; a resubmission or counter since then fails with ErrInvalidState.
func (s *Service) MatchOfferVersion(ctx context.Context, requestID, offerID types.ID, version int, actor types.Actor) (*ride.Ride, error) {
	return s.match(ctx, requestID, offerID, &version, actor)
}

func (s *Service) match(ctx context.Context, requestID, offerID types.ID, seen *int, actor types.Actor) (*ride.Ride, error) {
	if actor.Is(types.RoleDriver) {
		if err := s.gate.Require(ctx, actor.ID); err != nil {
			return nil, err
		}
	}
	r, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	if o.RequestID != r.ID {
		return nil, apperr.NotFound("offer %s is not on ride request %s", offerID, requestID)
	}
	if err := authorizeMatch(r, o, actor); err != nil {
		return nil, err
	}
	if seen != nil && o.Version != *seen {
		return nil, apperr.InvalidState("offer %s changed since version %d", o.ID, *seen)
	}

	now := s.now()
	if err := matchable(r, o, now); err != nil {
		observability.MatchRejections.WithLabelValues(apperr.Code(err)).Inc()
		if r.Expired(now) {
			s.persistExpiry(ctx, r, now)
		}
		return nil, err
	}

	rd := &ride.Ride{
		ID:            types.NewID(),
		RequestID:     r.ID,
		RiderID:       r.RiderID,
		DriverID:      types.IDPtr(o.DriverID),
		OfferID:       types.IDPtr(o.ID),
		Status:        ride.StatusAccepted,
		Pickup:        r.Pickup,
		Dropoff:       r.Dropoff,
		FinalFare:     o.AgreedFare(),
		PaymentMethod: r.PaymentMethod,
		PaymentStatus: ride.PaymentPending,
		DistanceKm:    r.DistanceKm,
		DurationMin:   r.DurationMin,
		RiderNotes:    r.Notes,
		CreatedAt:     now,
		AcceptedAt:    &now,
	}
	declined, err := s.store.CommitMatch(ctx, Match{
		RequestID:    r.ID,
		OfferID:      o.ID,
		OfferVersion: o.Version,
		Ride:         rd,
		At:           now,
	})
	if err != nil {
		if apperr.IsBusiness(err) {
			observability.MatchRejections.WithLabelValues(apperr.Code(err)).Inc()
			return nil, err
		}
		return nil, apperr.Unavailable(err)
	}

	observability.MatchesTotal.Inc()
	observability.RequestTransitions.WithLabelValues(string(StatusMatched)).Inc()
	s.log.Info("ride request matched",
		logger.ID("request_id", r.ID),
		logger.ID("offer_id", o.ID),
		logger.ID("ride_id", rd.ID),
		logger.ID("driver_id", o.DriverID),
		logger.Int64("final_fare", rd.FinalFare.Amount),
		logger.Actor(actor),
	)

	matched := *r
	matched.Status = StatusMatched
	matched.MatchedRideID = &rd.ID
	matched.UpdatedAt = now
	feed.Emit(ctx, s.feed, s.log, changeEvent(&matched, feed.OpUpdate))
	feed.Emit(ctx, s.feed, s.log, offer.ChangeEvent(o.ID, r.ID, r.RiderID, o.DriverID, offer.StatusAccepted))
	for _, d := range declined {
		feed.Emit(ctx, s.feed, s.log, offer.ChangeEvent(d.ID, r.ID, r.RiderID, d.DriverID, offer.StatusDeclined))
	}
	s.rides.RecordCreated(ctx, rd, actor)
	return rd, nil
}

func authorizeMatch(r *RideRequest, o *offer.Offer, actor types.Actor) error {
	switch {
	case actor.Is(types.RoleAdmin), actor.Is(types.RoleSystem):
		return nil
	case actor.Is(types.RoleRider) && actor.ID == r.RiderID:
		if o.Status == offer.StatusCountered {
			return apperr.Forbidden("the driver answers a counter-offer, not the rider")
		}
		return nil
	case actor.Is(types.RoleDriver) && actor.ID == o.DriverID:
		if o.Status != offer.StatusCountered {
			return apperr.Forbidden("drivers can only accept a rider's counter-offer")
		}
		return nil
	}
	return apperr.Forbidden("%s %s cannot accept offer %s", actor.Role, actor.ID, o.ID)
}

// matchable is the pre-check; CommitMatch re-checks the same conditions
// atomically.
func matchable(r *RideRequest, o *offer.Offer, now time.Time) error {
	switch {
	case r.Status == StatusMatched:
		return apperr.AlreadyMatched("ride request %s was already accepted", r.ID)
	case r.Status != StatusSearching:
		return apperr.InvalidState("ride request %s is %s", r.ID, r.Status)
	case r.Expired(now):
		return apperr.InvalidState("ride request %s expired at %s", r.ID, r.ExpiresAt.Format(time.RFC3339))
	case !o.Active():
		return apperr.InvalidState("offer %s is %s", o.ID, o.Status)
	}
	return nil
}

func (s *Service) ListOpen(ctx context.Context, limit int) ([]RideRequest, error) {
	reqs, err := s.store.ListOpen(ctx, s.now(), limit)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return reqs, nil
}

func (s *Service) ListByRider(ctx context.Context, riderID types.ID) ([]RideRequest, error) {
	reqs, err := s.store.ListByRider(ctx, riderID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	now := s.now()
	for i := range reqs {
		reqs[i].Status = reqs[i].EffectiveStatus(now)
	}
	return reqs, nil
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	counts, err := s.store.CountByStatus(ctx, s.now())
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return counts, nil
}

// SweepExpired persists expiry for up to limit overdue requests and returns
// how many it closed.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := s.now()
	overdue, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	closed := 0
	for i := range overdue {
		if _, err := s.close(ctx, &overdue[i], StatusExpired, nil, now); err != nil {
			if errors.Is(err, apperr.ErrInvalidState) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func changeEvent(r *RideRequest, op feed.Op) feed.Event {
	return feed.Event{
		Collection: feed.Requests,
		Op:         op,
		ID:         r.ID,
		Status:     string(r.Status),
		RiderID:    r.RiderID,
		RequestID:  r.ID,
		At:         r.UpdatedAt,
	}
}
