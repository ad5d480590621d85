package offer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridemarket/internal/app/apptest"
	"ridemarket/internal/apperr"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/types"
)

func backends(t *testing.T, fn func(t *testing.T, f *apptest.Fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, apptest.New(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, apptest.NewPostgres(t)) })
}

// Concurrent first submissions by one driver race on the active-offer
// index; the loser retries as a replacement.
func TestStoreConcurrentSubmitKeepsOneActiveOffer(t *testing.T) {
	backends(t, func(t *testing.T, f *apptest.Fixture) {
		ctx := context.Background()
		rider := types.Rider(types.NewID())
		req := f.OpenRequest(t, rider)
		drv := f.ApprovedDriver(t, types.NewID())

		const submits = 8
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, submits)
		for i := 0; i < submits; i++ {
			wg.Add(1)
			go func(cents int64) {
				defer wg.Done()
				<-start
				_, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(cents))
				errs <- err
			}(int64(2000 + i*10))
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := f.Core.Offers.ListByRequest(ctx, req.ID, rider)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, offer.StatusPending, all[0].Status)
		assert.Equal(t, submits-1, all[0].Version, "every submission after the first is a replacement")
	})
}

func TestStoreSubmitRespectsCounterAndDecline(t *testing.T) {
	backends(t, func(t *testing.T, f *apptest.Fixture) {
		ctx := context.Background()
		rider := types.Rider(types.NewID())
		req := f.OpenRequest(t, rider)
		drv := f.ApprovedDriver(t, types.NewID())

		o, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2600))
		require.NoError(t, err)
		countered, err := f.Core.Offers.CounterOffer(ctx, o.ID, apptest.USD(2300), rider)
		require.NoError(t, err)

		_, err = f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2500))
		assert.ErrorIs(t, err, apperr.ErrInvalidState)

		got, err := f.Core.Offers.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, countered.Version, got.Version)
		require.NotNil(t, got.CounterFare)
		assert.Equal(t, int64(2300), got.CounterFare.Amount)

		_, err = f.Core.Offers.DeclineOffer(ctx, o.ID, drv)
		require.NoError(t, err)
		fresh, err := f.Core.Offers.SubmitOffer(ctx, req.ID, drv, apptest.USD(2500))
		require.NoError(t, err)
		assert.NotEqual(t, o.ID, fresh.ID)
		assert.Equal(t, 0, fresh.Version)
	})
}
