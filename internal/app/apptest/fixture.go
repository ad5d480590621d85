// Package apptest builds a core for tests, in memory or over the Postgres
// test database.
package apptest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridemarket/internal/app"
	"ridemarket/internal/feed"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/store/memstore"
	"ridemarket/internal/testutil"
	"ridemarket/internal/types"
)

type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type Fixture struct {
	DB     *memstore.DB
	Pool   *pgxpool.Pool
	Stores app.Stores
	Bus    *feed.Bus
	Clock  *Clock
	Core   *app.Core
}

const TTL = 10 * time.Minute

// New returns a core whose request clock starts at the wall clock and only
// moves when the test advances it.
func New(t testing.TB) *Fixture {
	t.Helper()
	db := memstore.New()
	f := build(app.MemoryStores(db))
	f.DB = db
	return f
}

// NewPostgres is New over the stores in RIDEMARKET_TEST_DSN; the test is
// skipped when it is unset.
func NewPostgres(t testing.TB) *Fixture {
	t.Helper()
	pool := testutil.Postgres(t)
	f := build(app.PostgresStores(pool))
	f.Pool = pool
	return f
}

func build(st app.Stores) *Fixture {
	bus := feed.NewBus()
	// Postgres keeps microseconds; a coarser clock keeps round trips equal.
	clock := NewClock(time.Now().UTC().Truncate(time.Microsecond))
	core := app.NewCore(st, bus, nil, app.Options{
		RequestTTL: TTL,
		Currency:   "USD",
		Clock:      clock.Now,

		DashboardRefresh: time.Hour,
	})
	return &Fixture{Stores: st, Bus: bus, Clock: clock, Core: core}
}

func USD(cents int64) types.Money {
	return types.Cents(cents, "USD")
}

// Driver registers a driver with the given verification status.
func (f *Fixture) Driver(t testing.TB, id types.ID, status driver.VerificationStatus) types.Actor {
	t.Helper()
	if _, err := f.Stores.Drivers.SetStatus(context.Background(), id, status); err != nil {
		t.Fatalf("set driver status: %v", err)
	}
	return types.Driver(id)
}

func (f *Fixture) ApprovedDriver(t testing.TB, id types.ID) types.Actor {
	return f.Driver(t, id, driver.VerificationApproved)
}

// OpenRequest creates a searching request from 123 Main St to 456 Oak Ave
// with an $18-$30 band.
func (f *Fixture) OpenRequest(t testing.TB, rider types.Actor) *request.RideRequest {
	t.Helper()
	r, err := f.Core.Requests.CreateRequest(context.Background(), request.CreateCommand{
		Rider:         rider,
		Pickup:        types.Place{Address: "123 Main St"},
		Dropoff:       types.Place{Address: "456 Oak Ave"},
		FareMin:       USD(1800),
		FareMax:       USD(3000),
		DistanceKm:    7.5,
		DurationMin:   18,
		RideType:      request.RideStandard,
		PaymentMethod: ride.PaymentCard,
		Notes:         "gate code 42",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

// MatchedRide runs request, offer and acceptance and returns the new ride.
func (f *Fixture) MatchedRide(t testing.TB, fare int64) (*ride.Ride, types.Actor, types.Actor) {
	t.Helper()
	ctx := context.Background()
	rider := types.Rider(types.NewID())
	drv := f.ApprovedDriver(t, types.NewID())
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, USD(fare))
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}
	rd, err := f.Core.Offers.AcceptOffer(ctx, o.ID, o.Version, rider)
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	return rd, rider, drv
}

// InProgressRide advances a fresh ride to in_progress.
func (f *Fixture) InProgressRide(t testing.TB, fare int64) (*ride.Ride, types.Actor, types.Actor) {
	t.Helper()
	ctx := context.Background()
	rd, rider, drv := f.MatchedRide(t, fare)
	steps := []func(context.Context, types.ID, types.Actor) (*ride.Ride, error){
		f.Core.Rides.HeadToPickup,
		f.Core.Rides.Arrive,
		f.Core.Rides.StartTrip,
	}
	var err error
	for _, step := range steps {
		if rd, err = step(ctx, rd.ID, drv); err != nil {
			t.Fatalf("advance ride: %v", err)
		}
	}
	return rd, rider, drv
}
