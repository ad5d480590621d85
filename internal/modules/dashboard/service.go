// README: Dashboard projections over the tracker, ledger and rides; live via the change feed.
package dashboard

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type Requests interface {
	ListOpen(ctx context.Context, limit int) ([]request.RideRequest, error)
	CountByStatus(ctx context.Context) (map[request.Status]int, error)
}

type Offers interface {
	ListByDriver(ctx context.Context, driverID types.ID, statuses []offer.Status) ([]offer.Offer, error)
}

type Rides interface {
	ListActive(ctx context.Context, userID types.ID) ([]ride.Ride, error)
	ListByStatus(ctx context.Context, statuses []ride.Status, limit int) ([]ride.Ride, error)
	ListCompletedByDriver(ctx context.Context, driverID types.ID, since time.Time) ([]ride.Ride, error)
	CountByStatus(ctx context.Context) (map[ride.Status]int, error)
}

type DriverGate interface {
	Require(ctx context.Context, driverID types.ID) error
}

// Authorizer decides admin access to the monitor.
type Authorizer interface {
	IsAdmin(ctx context.Context, actor types.Actor) bool
}

// RoleAuthorizer trusts the actor's verified role.
type RoleAuthorizer struct{}

func (RoleAuthorizer) IsAdmin(_ context.Context, actor types.Actor) bool {
	return actor.Is(types.RoleAdmin)
}

const (
	DefaultRefresh = 5 * time.Second
	listLimit      = 100
)

type Deps struct {
	Requests Requests
	Offers   Offers
	Rides    Rides
	Gate     DriverGate
	Auth     Authorizer
	Feed     feed.Subscriber
	Log      *zap.Logger
	// Refresh bounds staleness when feed events are lost.
	Refresh time.Duration
	Clock   func() time.Time
}

type Service struct {
	requests Requests
	offers   Offers
	rides    Rides
	gate     DriverGate
	auth     Authorizer
	feed     feed.Subscriber
	log      *zap.Logger
	refresh  time.Duration
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		requests: d.Requests,
		offers:   d.Offers,
		rides:    d.Rides,
		gate:     d.Gate,
		auth:     d.Auth,
		feed:     d.Feed,
		log:      logger.OrNop(d.Log),
		refresh:  d.Refresh,
		now:      d.Clock,
	}
	if s.auth == nil {
		s.auth = RoleAuthorizer{}
	}
	if s.refresh <= 0 {
		s.refresh = DefaultRefresh
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) requireDriver(ctx context.Context, actor types.Actor) error {
	if !actor.Is(types.RoleDriver) {
		return apperr.Forbidden("this view is for drivers")
	}
	return s.gate.Require(ctx, actor.ID)
}

// AvailableRides lists open requests a driver can bid on, newest first.
func (s *Service) AvailableRides(ctx context.Context, actor types.Actor) ([]AvailableRide, error) {
	if err := s.requireDriver(ctx, actor); err != nil {
		return nil, err
	}
	open, err := s.requests.ListOpen(ctx, listLimit)
	if err != nil {
		return nil, err
	}
	mine, err := s.offers.ListByDriver(ctx, actor.ID, offer.ActiveStatuses)
	if err != nil {
		return nil, err
	}
	byRequest := make(map[types.ID]offer.Offer, len(mine))
	for _, o := range mine {
		byRequest[o.RequestID] = o
	}
	out := make([]AvailableRide, 0, len(open))
	for _, r := range open {
		item := AvailableRide{Request: r}
		if o, ok := byRequest[r.ID]; ok {
			item.MyOffer = &o
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) ActiveRides(ctx context.Context, actor types.Actor) ([]ride.Ride, error) {
	if actor.ID == "" {
		return nil, apperr.Forbidden("an identified actor is required")
	}
	if actor.Is(types.RoleDriver) {
		if err := s.gate.Require(ctx, actor.ID); err != nil {
			return nil, err
		}
	}
	return s.rides.ListActive(ctx, actor.ID)
}

// Earnings totals completed rides since the given time, grouped by UTC day.
func (s *Service) Earnings(ctx context.Context, actor types.Actor, since time.Time) (*Earnings, error) {
	if err := s.requireDriver(ctx, actor); err != nil {
		return nil, err
	}
	rides, err := s.rides.ListCompletedByDriver(ctx, actor.ID, since)
	if err != nil {
		return nil, err
	}
	e := &Earnings{DriverID: actor.ID, Since: since, Days: []DayEarnings{}}
	days := make(map[string]*DayEarnings)
	for _, r := range rides {
		if e.Total.Currency == "" {
			e.Total.Currency = r.FinalFare.Currency
		}
		if r.FinalFare.Currency != e.Total.Currency {
			s.log.Warn("earnings skip ride in foreign currency", logger.ID("ride_id", r.ID))
			continue
		}
		e.Rides++
		e.Total.Amount += r.FinalFare.Amount

		at := r.CreatedAt
		if r.CompletedAt != nil {
			at = *r.CompletedAt
		}
		key := at.UTC().Format(time.DateOnly)
		d, ok := days[key]
		if !ok {
			d = &DayEarnings{Day: key, Total: types.Money{Currency: e.Total.Currency}}
			days[key] = d
		}
		d.Rides++
		d.Total.Amount += r.FinalFare.Amount
	}
	for _, d := range days {
		e.Days = append(e.Days, *d)
	}
	sort.Slice(e.Days, func(i, j int) bool { return e.Days[i].Day < e.Days[j].Day })
	return e, nil
}

func (s *Service) AdminMonitor(ctx context.Context, actor types.Actor) (*Monitor, error) {
	if !s.auth.IsAdmin(ctx, actor) {
		return nil, apperr.Forbidden("admin access required")
	}
	reqs, err := s.requests.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	rides, err := s.rides.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	active, err := s.rides.ListByStatus(ctx, ride.ActiveStatuses, listLimit)
	if err != nil {
		return nil, err
	}
	return &Monitor{Requests: reqs, Rides: rides, Active: active}, nil
}

// Render computes one view for actor.
func (s *Service) Render(ctx context.Context, q Query, actor types.Actor) (any, error) {
	switch q.View {
	case ViewAvailable:
		return s.AvailableRides(ctx, actor)
	case ViewActive:
		return s.ActiveRides(ctx, actor)
	case ViewEarnings:
		return s.Earnings(ctx, actor, q.Since)
	case ViewMonitor:
		return s.AdminMonitor(ctx, actor)
	}
	return nil, apperr.Validation("unknown dashboard view %q", q.View)
}
