// README: Conditional update tests for ride stores (run with -race; Postgres when RIDEMARKET_TEST_DSN is set).
package ride_test

import (
	"context"
	"sync"
	"testing"

	"ridemarket/internal/app/apptest"
	"ridemarket/internal/modules/ride"
)

func backends(t *testing.T, fn func(t *testing.T, f *apptest.Fixture)) {
	t.Run("memory", func(t *testing.T) { fn(t, apptest.New(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, apptest.NewPostgres(t)) })
}

func TestStoreUpdateRejectsStaleVersion(t *testing.T) {
	backends(t, func(t *testing.T, f *apptest.Fixture) {
		ctx := context.Background()
		rd, _, _ := f.MatchedRide(t, 2200)
		store := f.Stores.Rides

		cur, err := store.Get(ctx, rd.ID)
		if err != nil {
			t.Fatalf("get ride: %v", err)
		}
		next := *cur
		next.Status = ride.StatusEnRoute
		ok, err := store.Update(ctx, &next, cur.Status, cur.StatusVersion)
		if err != nil || !ok {
			t.Fatalf("first update: ok=%v err=%v", ok, err)
		}

		stale := *cur
		stale.Status = ride.StatusCancelled
		ok, err = store.Update(ctx, &stale, cur.Status, cur.StatusVersion)
		if err != nil {
			t.Fatalf("stale update: %v", err)
		}
		if ok {
			t.Fatalf("update keyed on a stale status_version must not apply")
		}

		got, err := store.Get(ctx, rd.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got.Status != ride.StatusEnRoute || got.StatusVersion != cur.StatusVersion+1 {
			t.Fatalf("expected en_route at version %d, got %s at %d", cur.StatusVersion+1, got.Status, got.StatusVersion)
		}
	})
}

func TestStoreConcurrentCompletionConverges(t *testing.T) {
	backends(t, func(t *testing.T, f *apptest.Fixture) {
		ctx := context.Background()
		rd, _, drv := f.InProgressRide(t, 2200)

		const callers = 5
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := f.Core.Rides.Complete(ctx, rd.ID, drv, "")
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("duplicate completion should be a no-op, got %v", err)
			}
		}

		history, err := f.Core.Rides.History(ctx, rd.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		completions := 0
		for _, e := range history {
			if e.ToStatus == ride.StatusCompleted {
				completions++
			}
		}
		if completions != 1 {
			t.Fatalf("expected one completion event, got %d", completions)
		}
	})
}
