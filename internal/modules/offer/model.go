// README: Offer aggregate; a driver's priced bid against one ride request.
package offer

import (
	"time"

	"ridemarket/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCountered Status = "countered"
)

// ActiveStatuses are the statuses a match or a decline can still resolve.
var ActiveStatuses = []Status{StatusPending, StatusCountered}

type Offer struct {
	ID          types.ID     `json:"id"`
	RequestID   types.ID     `json:"request_id"`
	DriverID    types.ID     `json:"driver_id"`
	Fare        types.Money  `json:"fare"`
	CounterFare *types.Money `json:"counter_fare,omitempty"`
	Status      Status       `json:"status"`
	Version     int          `json:"version"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (o *Offer) Active() bool {
	return o.Status == StatusPending || o.Status == StatusCountered
}

// AgreedFare is the fare a match at this point would settle on.
func (o *Offer) AgreedFare() types.Money {
	if o.Status == StatusCountered && o.CounterFare != nil {
		return *o.CounterFare
	}
	return o.Fare
}

// RequestInfo is the slice of a ride request the ledger needs. Open is false
// once the request left searching or passed its expiry.
type RequestInfo struct {
	ID        types.ID
	RiderID   types.ID
	Status    string
	Open      bool
	Currency  string
	ExpiresAt time.Time
}
