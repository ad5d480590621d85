// README: Push notifications for participants, driven by the change feed.
package notify

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"ridemarket/internal/apperr"
	"ridemarket/internal/feed"
	"ridemarket/internal/logger"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/observability"
	"ridemarket/internal/types"
)

// OpenRequestsTopic is the FCM topic approved drivers' devices subscribe to.
const OpenRequestsTopic = "open_ride_requests"

type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

type Pusher interface {
	Send(ctx context.Context, deviceToken string, m Message) error
	SendTopic(ctx context.Context, topic string, m Message) error
}

type TokenStore interface {
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// queueSize bounds the events waiting for delivery.
const queueSize = 256

type Notifier struct {
	feed   feed.Subscriber
	push   Pusher
	tokens TokenStore
	log    *zap.Logger
}

func NewNotifier(sub feed.Subscriber, push Pusher, tokens TokenStore, log *zap.Logger) *Notifier {
	return &Notifier{feed: sub, push: push, tokens: tokens, log: logger.OrNop(log)}
}

// Start subscribes to every collection and delivers on its own goroutine, so
// a publisher that runs callbacks inline never waits on FCM. Events are
// dropped when the queue is full. The returned function unsubscribes,
// delivers what is already queued and waits for the worker to exit.
func (n *Notifier) Start(ctx context.Context) (feed.Unsubscribe, error) {
	q := &queue{events: make(chan feed.Event, queueSize), stop: make(chan struct{}), done: make(chan struct{})}
	unsub, err := n.feed.OnChange(ctx, feed.Filter{}, func(e feed.Event) {
		if !q.offer(e) {
			observability.NotificationsDropped.Inc()
			n.log.Warn("push queue full; event dropped",
				logger.String("collection", string(e.Collection)),
				logger.ID("id", e.ID),
			)
		}
	})
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	go n.run(ctx, q)

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			q.close()
			<-q.done
		})
	}, nil
}

func (n *Notifier) run(ctx context.Context, q *queue) {
	defer close(q.done)
	for {
		select {
		case e := <-q.events:
			n.Handle(ctx, e)
		case <-q.stop:
			for {
				select {
				case e := <-q.events:
					n.Handle(ctx, e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

type queue struct {
	mu     sync.RWMutex
	closed bool
	events chan feed.Event
	stop   chan struct{}
	done   chan struct{}
}

func (q *queue) offer(e feed.Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return true
	}
	select {
	case q.events <- e:
		return true
	default:
		return false
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.stop)
	}
}

// Handle sends the notification for one change, if it has one. Failures are
// logged; a missed push never affects the ride.
func (n *Notifier) Handle(ctx context.Context, e feed.Event) {
	t, ok := route(e)
	if !ok {
		return
	}
	var err error
	if t.topic != "" {
		err = n.push.SendTopic(ctx, t.topic, t.msg)
	} else {
		err = n.sendTo(ctx, t.user, t.msg)
	}
	if err != nil {
		n.log.Warn("push not delivered",
			logger.String("collection", string(e.Collection)),
			logger.ID("id", e.ID),
			logger.String("status", e.Status),
			logger.Err(err),
		)
	}
}

func (n *Notifier) sendTo(ctx context.Context, user types.ID, m Message) error {
	if user == "" {
		return nil
	}
	token, err := n.tokens.DeviceToken(ctx, user)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return n.push.Send(ctx, token, m)
}

type target struct {
	user  types.ID
	topic string
	msg   Message
}

func data(e feed.Event, kind string) map[string]string {
	d := map[string]string{
		"type":       kind,
		"collection": string(e.Collection),
		"id":         string(e.ID),
		"status":     e.Status,
	}
	if e.RequestID != "" {
		d["request_id"] = string(e.RequestID)
	}
	return d
}

func route(e feed.Event) (target, bool) {
	switch e.Collection {
	case feed.Requests:
		if e.Op == feed.OpInsert && e.Status == string(request.StatusSearching) {
			return target{topic: OpenRequestsTopic, msg: Message{
				Title: "New ride request",
				Body:  "A rider nearby is looking for a driver",
				Data:  data(e, "new_request"),
			}}, true
		}
	case feed.Offers:
		switch offer.Status(e.Status) {
		case offer.StatusPending:
			return target{user: e.RiderID, msg: Message{Title: "New offer", Body: "A driver sent you a price", Data: data(e, "offer")}}, true
		case offer.StatusCountered:
			return target{user: e.DriverID, msg: Message{Title: "Counter-offer", Body: "The rider proposed a different fare", Data: data(e, "counter")}}, true
		case offer.StatusAccepted:
			return target{user: e.DriverID, msg: Message{Title: "Offer accepted", Body: "Head to the pickup", Data: data(e, "offer_accepted")}}, true
		case offer.StatusDeclined:
			return target{user: e.DriverID, msg: Message{Title: "Offer closed", Body: "Your offer was not taken", Data: data(e, "offer_declined")}}, true
		}
	case feed.Rides:
		if e.Op != feed.OpUpdate {
			return target{}, false
		}
		switch ride.Status(e.Status) {
		case ride.StatusEnRoute:
			return target{user: e.RiderID, msg: Message{Title: "Driver on the way", Body: "Your driver is heading to the pickup", Data: data(e, "ride")}}, true
		case ride.StatusArrived:
			return target{user: e.RiderID, msg: Message{Title: "Driver arrived", Body: "Your driver is at the pickup", Data: data(e, "ride")}}, true
		case ride.StatusCompleted:
			return target{user: e.RiderID, msg: Message{Title: "Trip complete", Body: "Thanks for riding", Data: data(e, "ride")}}, true
		case ride.StatusCancelled:
			return target{user: e.DriverID, msg: Message{Title: "Ride cancelled", Body: "The ride was cancelled", Data: data(e, "ride")}}, true
		}
	}
	return target{}, false
}
