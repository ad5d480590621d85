// README: Live dashboards; re-render on matching feed events and on a fallback ticker.
package dashboard

import (
	"context"
	"sync"
	"time"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

// watchFilter narrows the feed to events that can change the view.
// relevant runs on top of the filter for conditions a Filter cannot express.
func watchFilter(q Query, actor types.Actor) (feed.Filter, func(feed.Event) bool) {
	switch q.View {
	case ViewAvailable:
		return feed.Filter{}, func(e feed.Event) bool {
			return e.Collection == feed.Requests || (e.Collection == feed.Offers && e.DriverID == actor.ID)
		}
	case ViewActive:
		return feed.Filter{Collection: feed.Rides, Participant: actor.ID}, nil
	case ViewEarnings:
		return feed.Filter{Collection: feed.Rides, DriverID: actor.ID}, func(e feed.Event) bool {
			return e.Status == string(ride.StatusCompleted)
		}
	}
	return feed.Filter{}, func(e feed.Event) bool { return e.Collection != feed.Offers }
}

// Watch renders the view once, then again after every matching change and
// every refresh interval, until ctx ends or the returned function is called.
// Events arriving while a render is pending are coalesced.
func (s *Service) Watch(ctx context.Context, q Query, actor types.Actor, onSnapshot func(Snapshot)) (feed.Unsubscribe, error) {
	if !q.View.Valid() {
		return nil, apperr.Validation("unknown dashboard view %q", q.View)
	}
	first, err := s.Render(ctx, q, actor)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	dirty := make(chan struct{}, 1)
	filter, relevant := watchFilter(q, actor)
	unsub, err := s.feed.OnChange(ctx, filter, func(e feed.Event) {
		if relevant != nil && !relevant(e) {
			return
		}
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	if err != nil {
		cancel()
		return nil, apperr.Unavailable(err)
	}

	onSnapshot(Snapshot{View: q.View, Data: first, At: s.now()})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
			case <-ticker.C:
			}
			data, err := s.Render(ctx, q, actor)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.log.Warn("dashboard render failed", logger.String("view", string(q.View)), logger.Actor(actor), logger.Err(err))
			}
			onSnapshot(Snapshot{View: q.View, Data: data, Err: err, At: s.now()})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			cancel()
			wg.Wait()
		})
	}, nil
}
