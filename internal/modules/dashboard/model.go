// README: Read-only dashboard views for drivers, riders and admins.
package dashboard

import (
	"time"

	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type View string

const (
	ViewAvailable View = "available"
	ViewActive    View = "active"
	ViewEarnings  View = "earnings"
	ViewMonitor   View = "monitor"
)

func (v View) Valid() bool {
	switch v {
	case ViewAvailable, ViewActive, ViewEarnings, ViewMonitor:
		return true
	}
	return false
}

// AvailableRide is an open request with the viewing driver's own active
// offer on it, if any.
type AvailableRide struct {
	Request request.RideRequest `json:"request"`
	MyOffer *offer.Offer        `json:"my_offer,omitempty"`
}

type DayEarnings struct {
	Day   string      `json:"day"`
	Rides int         `json:"rides"`
	Total types.Money `json:"total"`
}

type Earnings struct {
	DriverID types.ID      `json:"driver_id"`
	Since    time.Time     `json:"since"`
	Rides    int           `json:"rides"`
	Total    types.Money   `json:"total"`
	Days     []DayEarnings `json:"days"`
}

type Monitor struct {
	Requests map[request.Status]int `json:"requests"`
	Rides    map[ride.Status]int    `json:"rides"`
	Active   []ride.Ride            `json:"active"`
}

// Query selects a view. Since only applies to earnings.
type Query struct {
	View  View
	Since time.Time
}

type Snapshot struct {
	View View      `json:"view"`
	Data any       `json:"data,omitempty"`
	Err  error     `json:"-"`
	At   time.Time `json:"at"`
}
