// README: Ride request tracker tests over the in-memory store.
package request_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridemarket/internal/app/apptest"
	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

func TestCreateRequest(t *testing.T) {
	f := apptest.New(t)
	rider := types.Rider("rider-1")

	var events []feed.Event
	unsub, err := f.Bus.OnChange(context.Background(), feed.Filter{Collection: feed.Requests}, func(e feed.Event) {
		events = append(events, e)
	})
	require.NoError(t, err)
	defer unsub()

	r := f.OpenRequest(t, rider)
	assert.Equal(t, request.StatusSearching, r.Status)
	assert.Equal(t, types.ID("rider-1"), r.RiderID)
	assert.Equal(t, request.RideStandard, r.RideType)
	assert.Equal(t, r.CreatedAt.Add(apptest.TTL), r.ExpiresAt)
	require.Len(t, events, 1)
	assert.Equal(t, feed.OpInsert, events[0].Op)
	assert.Equal(t, r.ID, events[0].ID)
}

func TestCreateRequestValidation(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	base := request.CreateCommand{
		Rider:   types.Rider("rider-1"),
		Pickup:  types.Place{Address: "123 Main St"},
		Dropoff: types.Place{Address: "456 Oak Ave"},
		FareMin: apptest.USD(1800),
		FareMax: apptest.USD(3000),
	}

	cases := []struct {
		name   string
		mutate func(*request.CreateCommand)
		want   error
	}{
		{"driver cannot request", func(c *request.CreateCommand) { c.Rider = types.Driver("d1") }, apperr.ErrForbidden},
		{"missing pickup", func(c *request.CreateCommand) { c.Pickup = types.Place{} }, apperr.ErrValidation},
		{"missing band", func(c *request.CreateCommand) { c.FareMin, c.FareMax = types.Money{}, types.Money{} }, apperr.ErrValidation},
		{"inverted band", func(c *request.CreateCommand) { c.FareMin = apptest.USD(3500) }, apperr.ErrValidation},
		{"mixed currency", func(c *request.CreateCommand) { c.FareMax = types.Cents(3000, "EUR") }, apperr.ErrValidation},
		{"unknown ride type", func(c *request.CreateCommand) { c.RideType = "helicopter" }, apperr.ErrValidation},
		{"unknown payment", func(c *request.CreateCommand) { c.PaymentMethod = "barter" }, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mutate(&cmd)
			_, err := f.Core.Requests.CreateRequest(ctx, cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

type fixedBand struct{ lo, hi types.Money }

func (b fixedBand) EstimateBand(context.Context, float64, float64, string) (types.Money, types.Money, error) {
	return b.lo, b.hi, nil
}

func TestCreateRequestUsesFareEstimator(t *testing.T) {
	f := apptest.New(t)
	svc := request.NewService(f.DB.Requests(), f.DB.Offers(), f.Core.Rides, f.Core.Gate, f.Bus, nil,
		request.WithFareEstimator(fixedBand{apptest.USD(1500), apptest.USD(2100)}))

	r, err := svc.CreateRequest(context.Background(), request.CreateCommand{
		Rider:      types.Rider("rider-1"),
		Pickup:     types.Place{Address: "a"},
		Dropoff:    types.Place{Address: "b"},
		DistanceKm: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), r.FareMin.Amount)
	assert.Equal(t, int64(2100), r.FareMax.Amount)
}

func TestAcceptLowerOfTwoOffers(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)

	d1 := f.ApprovedDriver(t, "driver-1")
	d2 := f.ApprovedDriver(t, "driver-2")
	high, err := f.Core.Offers.SubmitOffer(ctx, req.ID, d1, apptest.USD(2450))
	require.NoError(t, err)
	low, err := f.Core.Offers.SubmitOffer(ctx, req.ID, d2, apptest.USD(2200))
	require.NoError(t, err)

	rd, err := f.Core.Offers.AcceptOffer(ctx, low.ID, low.Version, rider)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, rd.Status)
	assert.Equal(t, int64(2200), rd.FinalFare.Amount)
	assert.Equal(t, "22.00 USD", rd.FinalFare.String())
	assert.Equal(t, req.ID, rd.RequestID)
	assert.True(t, rd.HasDriver("driver-2"))

	got, err := f.Core.Requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusMatched, got.Status)
	require.NotNil(t, got.MatchedRideID)
	assert.Equal(t, rd.ID, *got.MatchedRideID)

	h, err := f.Core.Offers.Get(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusDeclined, h.Status)
	l, err := f.Core.Offers.Get(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusAccepted, l.Status)
}

func TestMatchAfterCancelFails(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)

	cancelled, err := f.Core.Requests.CancelRequest(ctx, req.ID, rider, "found another way")
	require.NoError(t, err)
	assert.Equal(t, request.StatusCancelled, cancelled.Status)

	declined, err := f.Core.Offers.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusDeclined, declined.Status)

	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, rider)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.False(t, errors.Is(err, apperr.ErrAlreadyMatched))

	_, err = f.Core.Requests.CancelRequest(ctx, req.ID, rider, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestExpiredRequestCannotBeMatched(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)

	f.Clock.Advance(apptest.TTL + time.Second)

	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, rider)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	got, err := f.Core.Requests.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)

	stale, err := f.Core.Offers.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, offer.StatusDeclined, stale.Status)

	_, err = f.Core.Requests.CancelRequest(ctx, req.ID, rider, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestRequestAtExactExpiryIsStillOpen(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)

	f.Clock.Advance(apptest.TTL)
	rd, err := f.Core.Offers.AcceptOffer(ctx, o.ID, o.Version, rider)
	require.NoError(t, err)
	assert.Equal(t, ride.StatusAccepted, rd.Status)
}

func TestExpire(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	req := f.OpenRequest(t, types.Rider("rider-1"))

	_, err := f.Core.Requests.Expire(ctx, req.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "not yet due")

	f.Clock.Advance(apptest.TTL + time.Minute)
	got, err := f.Core.Requests.Expire(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, request.StatusExpired, got.Status)

	_, err = f.Core.Requests.Expire(ctx, req.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "already expired")
}

func TestCancelRequestAuthorization(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	req := f.OpenRequest(t, types.Rider("rider-1"))

	_, err := f.Core.Requests.CancelRequest(ctx, req.ID, types.Rider("rider-2"), "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.Core.Requests.CancelRequest(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.Core.Requests.CancelRequest(ctx, req.ID, types.Admin("admin-1"), "fraud")
	require.NoError(t, err)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "fraud", *got.CancelReason)
}

func TestMatchAuthorization(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)
	drv := f.ApprovedDriver(t, "driver-1")
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2000))
	require.NoError(t, err)

	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, types.Rider("rider-2"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, drv)
	assert.ErrorIs(t, err, apperr.ErrForbidden, "a driver cannot accept their own offer")

	other := f.OpenRequest(t, rider)
	_, err = f.Core.Requests.MatchToOffer(ctx, other.ID, o.ID, rider)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSecondMatchIsAlreadyMatched(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	rider := types.Rider("rider-1")
	req := f.OpenRequest(t, rider)
	o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, f.ApprovedDriver(t, "driver-1"), apptest.USD(2000))
	require.NoError(t, err)

	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, rider)
	require.NoError(t, err)
	_, err = f.Core.Requests.MatchToOffer(ctx, req.ID, o.ID, rider)
	assert.ErrorIs(t, err, apperr.ErrAlreadyMatched)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSweepExpired(t *testing.T) {
	f := apptest.New(t)
	ctx := context.Background()
	stale := f.OpenRequest(t, types.Rider("rider-1"))
	f.Clock.Advance(apptest.TTL + time.Second)
	fresh := f.OpenRequest(t, types.Rider("rider-2"))

	n, err := f.Core.Requests.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := f.Core.Requests.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[request.StatusExpired])
	assert.Equal(t, 1, counts[request.StatusSearching])

	open, err := f.Core.Requests.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, fresh.ID, open[0].ID)

	mine, err := f.Core.Requests.ListByRider(ctx, "rider-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, stale.ID, mine[0].ID)
	assert.Equal(t, request.StatusExpired, mine[0].Status)
}

func TestRunExpirySweeperStopsWithContext(t *testing.T) {
	f := apptest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Core.Requests.RunExpirySweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
