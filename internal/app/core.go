// README: Wires the lifecycle core (gate, tracker, ledger, state machine) over a set of stores.
package app

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"ridemarket/internal/feed"
	"ridemarket/internal/modules/dashboard"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/store/memstore"
)

type Stores struct {
	Requests request.Store
	Offers   offer.Store
	Rides    ride.Store
	Drivers  driver.Store
}

func MemoryStores(db *memstore.DB) Stores {
	return Stores{
		Requests: db.Requests(),
		Offers:   db.Offers(),
		Rides:    db.Rides(),
		Drivers:  db.Drivers(),
	}
}

func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Requests: request.NewPostgresStore(pool),
		Offers:   offer.NewPostgresStore(pool),
		Rides:    ride.NewPostgresStore(pool),
		Drivers:  driver.NewPostgresStore(pool),
	}
}

type Options struct {
	RequestTTL time.Duration
	Currency   string
	Fares      request.FareEstimator
	Clock      func() time.Time

	// DashboardRefresh is the fallback re-render interval for live views.
	DashboardRefresh time.Duration
	Authorizer       dashboard.Authorizer
}

type Core struct {
	Gate      *driver.Gate
	Drivers   *driver.Service
	Rides     *ride.Service
	Requests  *request.Service
	Offers    *offer.Service
	Dashboard *dashboard.Service
}

func NewCore(st Stores, pub feed.Feed, log *zap.Logger, opts Options) *Core {
	gate := driver.NewGate(st.Drivers)
	rides := ride.NewService(st.Rides, gate, pub, log, ride.WithClock(opts.Clock))

	reqOpts := []request.Option{request.WithTTL(opts.RequestTTL), request.WithCurrency(opts.Currency)}
	if opts.Fares != nil {
		reqOpts = append(reqOpts, request.WithFareEstimator(opts.Fares))
	}
	if opts.Clock != nil {
		reqOpts = append(reqOpts, request.WithClock(opts.Clock))
	}
	requests := request.NewService(st.Requests, st.Offers, rides, gate, pub, log, reqOpts...)

	offers := offer.NewService(st.Offers, requests, gate, pub, log)
	offers.SetClock(opts.Clock)

	dash := dashboard.NewService(dashboard.Deps{
		Requests: requests,
		Offers:   offers,
		Rides:    rides,
		Gate:     gate,
		Auth:     opts.Authorizer,
		Feed:     pub,
		Log:      log,
		Refresh:  opts.DashboardRefresh,
		Clock:    opts.Clock,
	})

	return &Core{
		Gate:      gate,
		Drivers:   driver.NewService(st.Drivers, log),
		Rides:     rides,
		Requests:  requests,
		Offers:    offers,
		Dashboard: dash,
	}
}
