// README: Change feed contract: insert/update events per collection, delivered at-least-once to filtered subscribers.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"ridemarket/internal/types"
)

type Collection string

const (
	Requests Collection = "ride_requests"
	Offers   Collection = "ride_offers"
	Rides    Collection = "rides"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

type Event struct {
	Collection Collection `json:"collection"`
	Op         Op         `json:"op"`
	ID         types.ID   `json:"id"`
	Status     string     `json:"status"`
	RiderID    types.ID   `json:"rider_id,omitempty"`
	DriverID   types.ID   `json:"driver_id,omitempty"`
	RequestID  types.ID   `json:"request_id,omitempty"`
	At         time.Time  `json:"at"`
}

// Filter selects events. Zero fields match anything; Participant matches an
// event whose rider or driver is the given id.
type Filter struct {
	Collection  Collection
	Status      string
	RiderID     types.ID
	DriverID    types.ID
	RequestID   types.ID
	Participant types.ID
}

func (f Filter) Match(e Event) bool {
	if f.Collection != "" && f.Collection != e.Collection {
		return false
	}
	if f.Status != "" && f.Status != e.Status {
		return false
	}
	if f.RiderID != "" && f.RiderID != e.RiderID {
		return false
	}
	if f.DriverID != "" && f.DriverID != e.DriverID {
		return false
	}
	if f.RequestID != "" && f.RequestID != e.RequestID {
		return false
	}
	if f.Participant != "" && f.Participant != e.RiderID && f.Participant != e.DriverID {
		return false
	}
	return true
}

type Callback func(Event)

// Unsubscribe stops delivery. It is safe to call more than once.
type Unsubscribe func()

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	// OnChange delivers matching events to cb until the returned handle is
	// called or ctx ends. Delivery order across aggregates is not guaranteed.
	OnChange(ctx context.Context, f Filter, cb Callback) (Unsubscribe, error)
}

type Feed interface {
	Publisher
	Subscriber
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decode(b []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(b, &e)
	return e, err
}
