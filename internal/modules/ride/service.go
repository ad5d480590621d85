// README: Ride service implements lifecycle transitions with optimistic concurrency.
package ride

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/observability"
	"ridemarket/internal/types"
)

type Store interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	// Update writes r if the stored ride is still at (fromStatus, fromVersion)
	// and bumps status_version. ok is false when another writer got there first.
	Update(ctx context.Context, r *Ride, fromStatus Status, fromVersion int) (ok bool, err error)
	AppendEvent(ctx context.Context, e *Event) error
	History(ctx context.Context, rideID types.ID) ([]Event, error)
	ListByParticipant(ctx context.Context, userID types.ID, statuses []Status) ([]Ride, error)
	ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Ride, error)
	ListCompletedByDriver(ctx context.Context, driverID types.ID, since time.Time) ([]Ride, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

type DriverGate interface {
	Require(ctx context.Context, driverID types.ID) error
}

type Service struct {
	store Store
	gate  DriverGate
	feed  feed.Publisher
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*Service)

// WithClock sets the time source for lifecycle timestamps and history.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, gate DriverGate, pub feed.Publisher, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store: store,
		gate:  gate,
		feed:  pub,
		log:   logger.OrNop(log),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// maxAttempts bounds reload-and-retry after a lost conditional write.
const maxAttempts = 3

// Settlement is the payment collaborator's report for a ride.
type Settlement struct {
	RideID    types.ID
	Amount    types.Money
	Succeeded bool
	Reference string
}

// decision computes the next ride from the current one. A nil ride with a nil
// error means there is nothing to write.
type decision func(cur *Ride, now time.Time) (*Ride, error)

func (s *Service) Get(ctx context.Context, id types.ID) (*Ride, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return r, nil
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	events, err := s.store.History(ctx, id)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return events, nil
}

func (s *Service) ListActive(ctx context.Context, userID types.ID) ([]Ride, error) {
	rides, err := s.store.ListByParticipant(ctx, userID, ActiveStatuses)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return rides, nil
}

func (s *Service) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Ride, error) {
	rides, err := s.store.ListByStatus(ctx, statuses, limit)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return rides, nil
}

func (s *Service) ListCompletedByDriver(ctx context.Context, driverID types.ID, since time.Time) ([]Ride, error) {
	rides, err := s.store.ListCompletedByDriver(ctx, driverID, since)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return rides, nil
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return counts, nil
}

// RecordCreated records the creation event of a ride committed by the match. The
// ride row itself is written inside the match transaction.
func (s *Service) RecordCreated(ctx context.Context, r *Ride, actor types.Actor) {
	s.appendEvent(ctx, r.ID, StatusNone, r.Status, TriggerCreate, actor, "")
	observability.RideTransitions.WithLabelValues(string(StatusNone), string(r.Status)).Inc()
	feed.Emit(ctx, s.feed, s.log, changeEvent(r, feed.OpInsert))
}

func (s *Service) HeadToPickup(ctx context.Context, id types.ID, actor types.Actor) (*Ride, error) {
	return s.driverStep(ctx, id, actor, TriggerHeadToPickup, func(r *Ride, now time.Time) {
		if r.AcceptedAt == nil {
			r.AcceptedAt = &now
		}
	})
}

func (s *Service) Arrive(ctx context.Context, id types.ID, actor types.Actor) (*Ride, error) {
	return s.driverStep(ctx, id, actor, TriggerArrive, nil)
}

func (s *Service) StartTrip(ctx context.Context, id types.ID, actor types.Actor) (*Ride, error) {
	return s.driverStep(ctx, id, actor, TriggerStartTrip, func(r *Ride, now time.Time) {
		r.StartedAt = &now
	})
}

// Complete is idempotent: completing a completed ride returns it unchanged.
func (s *Service) Complete(ctx context.Context, id types.ID, actor types.Actor, driverNotes string) (*Ride, error) {
	return s.driverStep(ctx, id, actor, TriggerComplete, func(r *Ride, now time.Time) {
		r.CompletedAt = &now
		if driverNotes != "" {
			r.DriverNotes = driverNotes
		}
	})
}

func (s *Service) driverStep(ctx context.Context, id types.ID, actor types.Actor, t Trigger, apply func(*Ride, time.Time)) (*Ride, error) {
	if !actor.Is(types.RoleDriver) {
		return nil, apperr.Forbidden("only the assigned driver can %s", t)
	}
	if err := s.gate.Require(ctx, actor.ID); err != nil {
		return nil, err
	}
	return s.apply(ctx, id, actor, t, "", func(cur *Ride, now time.Time) (*Ride, error) {
		if !cur.HasDriver(actor.ID) {
			return nil, apperr.Forbidden("driver %s is not assigned to ride %s", actor.ID, cur.ID)
		}
		if t.completes() && cur.Status == StatusCompleted {
			return nil, nil
		}
		to, err := Next(cur.Status, t)
		if err != nil {
			return nil, err
		}
		next := *cur
		next.Status = to
		if apply != nil {
			apply(&next, now)
		}
		return &next, nil
	})
}

// Cancel is open to the ride's rider, its assigned driver and admins.
func (s *Service) Cancel(ctx context.Context, id types.ID, actor types.Actor, reason string) (*Ride, error) {
	if actor.Is(types.RoleDriver) {
		if err := s.gate.Require(ctx, actor.ID); err != nil {
			return nil, err
		}
	}
	return s.apply(ctx, id, actor, TriggerCancel, reason, func(cur *Ride, now time.Time) (*Ride, error) {
		switch {
		case actor.Is(types.RoleAdmin):
		case actor.Is(types.RoleRider) && cur.RiderID == actor.ID:
		case actor.Is(types.RoleDriver) && cur.HasDriver(actor.ID):
		default:
			return nil, apperr.Forbidden("%s %s cannot cancel ride %s", actor.Role, actor.ID, cur.ID)
		}
		to, err := Next(cur.Status, TriggerCancel)
		if err != nil {
			return nil, err
		}
		next := *cur
		next.Status = to
		next.CancelledAt = &now
		if reason != "" {
			next.CancelReason = &reason
		}
		return &next, nil
	})
}

// ConfirmPayment applies a settlement. A successful settlement completes an
// in-progress ride; on a completed ride it only records the payment, and a
// duplicate is a no-op. The fare is raised to the settled amount, never lowered.
func (s *Service) ConfirmPayment(ctx context.Context, st Settlement, actor types.Actor) (*Ride, error) {
	if !actor.Is(types.RoleSystem) && !actor.Is(types.RoleAdmin) {
		return nil, apperr.Forbidden("payment settlement is reported by the payment collaborator")
	}
	if st.RideID == "" {
		return nil, apperr.Validation("settlement has no ride id")
	}
	if st.Succeeded && !st.Amount.IsPositive() {
		return nil, apperr.Validation("settled amount must be positive")
	}

	r, err := s.apply(ctx, st.RideID, actor, TriggerPaymentConfirmed, st.Reference, func(cur *Ride, now time.Time) (*Ride, error) {
		st := st
		if st.Succeeded {
			if st.Amount.Currency == "" {
				st.Amount.Currency = cur.FinalFare.Currency
			}
			if st.Amount.Currency != cur.FinalFare.Currency {
				return nil, apperr.Validation("settled currency %s does not match ride currency %s", st.Amount.Currency, cur.FinalFare.Currency)
			}
		}
		if !st.Succeeded {
			if cur.PaymentStatus == PaymentPaid || cur.Status == StatusCancelled {
				return nil, nil
			}
			next := *cur
			next.PaymentStatus = PaymentFailed
			return &next, nil
		}
		if cur.Status == StatusCompleted {
			if cur.PaymentStatus == PaymentPaid {
				return nil, nil
			}
			next := *cur
			settle(&next, st)
			return &next, nil
		}
		to, err := Next(cur.Status, TriggerPaymentConfirmed)
		if err != nil {
			return nil, err
		}
		next := *cur
		next.Status = to
		next.CompletedAt = &now
		settle(&next, st)
		return &next, nil
	})
	outcome := "paid"
	switch {
	case err != nil:
		outcome = "rejected"
	case !st.Succeeded:
		outcome = "failed"
	}
	observability.PaymentSettlements.WithLabelValues(outcome).Inc()
	return r, err
}

func settle(r *Ride, st Settlement) {
	r.FinalFare = r.FinalFare.Max(st.Amount)
	r.PaymentStatus = PaymentPaid
	if st.Reference != "" {
		ref := st.Reference
		r.PaymentRef = &ref
	}
}

// apply loads the ride, lets decide compute the next version and writes it
// with a conditional update, reloading when a concurrent writer wins.
func (s *Service) apply(ctx context.Context, id types.ID, actor types.Actor, t Trigger, reason string, decide decision) (*Ride, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, apperr.Unavailable(err)
		}
		now := s.now()
		next, err := decide(cur, now)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		ok, err := s.store.Update(ctx, next, cur.Status, cur.StatusVersion)
		if err != nil {
			return nil, apperr.Unavailable(err)
		}
		if !ok {
			observability.ConcurrentRetries.WithLabelValues("ride").Inc()
			continue
		}
		next.StatusVersion = cur.StatusVersion + 1

		if next.Status != cur.Status {
			s.appendEvent(ctx, id, cur.Status, next.Status, t, actor, reason)
			observability.RideTransitions.WithLabelValues(string(cur.Status), string(next.Status)).Inc()
			s.log.Info("ride transition",
				logger.ID("ride_id", id),
				logger.String("from", string(cur.Status)),
				logger.String("to", string(next.Status)),
				logger.Actor(actor),
			)
		}
		feed.Emit(ctx, s.feed, s.log, changeEvent(next, feed.OpUpdate))
		return next, nil
	}
	return nil, apperr.InvalidState("ride %s is being changed concurrently, retry", id)
}

func (s *Service) appendEvent(ctx context.Context, id types.ID, from, to Status, t Trigger, actor types.Actor, reason string) {
	err := s.store.AppendEvent(ctx, &Event{
		RideID:     id,
		FromStatus: from,
		ToStatus:   to,
		Trigger:    t,
		ActorRole:  actor.Role,
		ActorID:    types.IDPtr(actor.ID),
		Reason:     reason,
		CreatedAt:  s.now(),
	})
	if err != nil {
		s.log.Warn("ride event not recorded", logger.ID("ride_id", id), logger.Err(err))
	}
}

func changeEvent(r *Ride, op feed.Op) feed.Event {
	e := feed.Event{
		Collection: feed.Rides,
		Op:         op,
		ID:         r.ID,
		Status:     string(r.Status),
		RiderID:    r.RiderID,
		RequestID:  r.RequestID,
	}
	if r.DriverID != nil {
		e.DriverID = *r.DriverID
	}
	return e
}
