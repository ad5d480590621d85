// README: Ride aggregate and status definitions.
package ride

import (
	"time"

	"ridemarket/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusEnRoute    Status = "en_route"
	StatusArrived    Status = "arrived"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses are the non-terminal statuses shown on dashboards.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusEnRoute, StatusArrived, StatusInProgress}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentCard || m == PaymentCash
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type Ride struct {
	ID            types.ID      `json:"id"`
	RequestID     types.ID      `json:"request_id"`
	RiderID       types.ID      `json:"rider_id"`
	DriverID      *types.ID     `json:"driver_id,omitempty"`
	OfferID       *types.ID     `json:"offer_id,omitempty"`
	Status        Status        `json:"status"`
	StatusVersion int           `json:"status_version"`
	Pickup        types.Place   `json:"pickup"`
	Dropoff       types.Place   `json:"dropoff"`
	FinalFare     types.Money   `json:"final_fare"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentRef    *string       `json:"payment_ref,omitempty"`
	DistanceKm    float64       `json:"distance_km"`
	DurationMin   float64       `json:"duration_min"`
	RiderNotes    string        `json:"rider_notes,omitempty"`
	DriverNotes   string        `json:"driver_notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	AcceptedAt    *time.Time    `json:"accepted_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	CancelReason  *string       `json:"cancel_reason,omitempty"`
}

// HasDriver reports whether id is the assigned driver.
func (r *Ride) HasDriver(id types.ID) bool {
	return r.DriverID != nil && *r.DriverID == id
}

type Event struct {
	ID         int64      `json:"id"`
	RideID     types.ID   `json:"ride_id"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	Trigger    Trigger    `json:"trigger"`
	ActorRole  types.Role `json:"actor_role"`
	ActorID    *types.ID  `json:"actor_id,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
