// README: Ride state flow as a table of (from, trigger) -> to.
package ride

import "ridemarket/internal/apperr"

type Trigger string

const (
	TriggerCreate           Trigger = "create"
	TriggerHeadToPickup     Trigger = "head_to_pickup"
	TriggerArrive           Trigger = "arrive"
	TriggerStartTrip        Trigger = "start_trip"
	TriggerComplete         Trigger = "complete"
	TriggerPaymentConfirmed Trigger = "payment_confirmed"
	TriggerCancel           Trigger = "cancel"
)

// completes reports whether the trigger's target is completed; repeating such
// a trigger on a completed ride is a no-op.
func (t Trigger) completes() bool {
	return t == TriggerComplete || t == TriggerPaymentConfirmed
}

type Transition struct {
	From    Status
	Trigger Trigger
	To      Status
}

// Transitions is the ride state flow. Cancel is allowed from every
// non-terminal status and is handled in Next.
var Transitions = []Transition{
	{From: StatusPending, Trigger: TriggerHeadToPickup, To: StatusEnRoute},
	{From: StatusAccepted, Trigger: TriggerHeadToPickup, To: StatusEnRoute},
	{From: StatusEnRoute, Trigger: TriggerArrive, To: StatusArrived},
	{From: StatusArrived, Trigger: TriggerStartTrip, To: StatusInProgress},
	{From: StatusInProgress, Trigger: TriggerComplete, To: StatusCompleted},
	{From: StatusInProgress, Trigger: TriggerPaymentConfirmed, To: StatusCompleted},
}

// Next returns the status a trigger moves from to.
func Next(from Status, t Trigger) (Status, error) {
	if from.Terminal() {
		return "", apperr.Terminal("ride is %s", from)
	}
	if t == TriggerCancel {
		return StatusCancelled, nil
	}
	for _, tr := range Transitions {
		if tr.From == from && tr.Trigger == t {
			return tr.To, nil
		}
	}
	return "", apperr.InvalidState("cannot %s a ride that is %s", t, from)
}

func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, tr := range Transitions {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}
