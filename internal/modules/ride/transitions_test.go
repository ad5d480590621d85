// README: Ride transition table tests; no store needed.
package ride

import (
	"errors"
	"testing"

	"ridemarket/internal/apperr"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusPending, StatusEnRoute, true},
		{StatusAccepted, StatusEnRoute, true},
		{StatusEnRoute, StatusArrived, true},
		{StatusArrived, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		// cancels from every non-terminal state
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusEnRoute, StatusCancelled, true},
		{StatusArrived, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusAccepted, false},
		{StatusCompleted, StatusCompleted, false},
		// no skipping, no regressing
		{StatusAccepted, StatusArrived, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusEnRoute, StatusInProgress, false},
		{StatusArrived, StatusEnRoute, false},
		{StatusInProgress, StatusArrived, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNext(t *testing.T) {
	cases := []struct {
		from    Status
		trigger Trigger
		want    Status
		err     error
	}{
		{StatusAccepted, TriggerHeadToPickup, StatusEnRoute, nil},
		{StatusPending, TriggerHeadToPickup, StatusEnRoute, nil},
		{StatusEnRoute, TriggerArrive, StatusArrived, nil},
		{StatusArrived, TriggerStartTrip, StatusInProgress, nil},
		{StatusInProgress, TriggerComplete, StatusCompleted, nil},
		{StatusInProgress, TriggerPaymentConfirmed, StatusCompleted, nil},
		{StatusArrived, TriggerCancel, StatusCancelled, nil},
		{StatusAccepted, TriggerArrive, "", apperr.ErrInvalidState},
		{StatusEnRoute, TriggerComplete, "", apperr.ErrInvalidState},
		{StatusArrived, TriggerPaymentConfirmed, "", apperr.ErrInvalidState},
		{StatusCompleted, TriggerCancel, "", apperr.ErrTerminalState},
		{StatusCancelled, TriggerHeadToPickup, "", apperr.ErrTerminalState},
	}
	for _, tc := range cases {
		got, err := Next(tc.from, tc.trigger)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("Next(%s, %s) err = %v, want %v", tc.from, tc.trigger, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Next(%s, %s) = %s, %v; want %s", tc.from, tc.trigger, got, err, tc.want)
		}
	}
}

func TestNext_TerminalIsAlsoInvalidState(t *testing.T) {
	_, err := Next(StatusCompleted, TriggerComplete)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("terminal error should match ErrInvalidState, got %v", err)
	}
}
