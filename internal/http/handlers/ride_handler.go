// README: Ride lifecycle handlers; each driver step maps to one state machine trigger.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

type RideHandler struct {
	rides *ride.Service
}

func NewRideHandler(rides *ride.Service) *RideHandler {
	return &RideHandler{rides: rides}
}

// visible loads a ride the caller takes part in. Other callers get NotFound
// so ride ids cannot be enumerated.
func (h *RideHandler) visible(c *gin.Context) (*ride.Ride, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	actor := middleware.CallerActor(c)
	if !actor.Is(types.RoleAdmin) && r.RiderID != actor.ID && !r.HasDriver(actor.ID) {
		writeError(c, apperr.NotFound("ride %s", id))
		return nil, false
	}
	return r, true
}

func (h *RideHandler) Get(c *gin.Context) {
	r, ok := h.visible(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) History(c *gin.Context) {
	r, ok := h.visible(c)
	if !ok {
		return
	}
	events, err := h.rides.History(c.Request.Context(), r.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ride_id": r.ID, "events": events})
}

// Mine lists the caller's non-terminal rides.
func (h *RideHandler) Mine(c *gin.Context) {
	list, err := h.rides.ListActive(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": list})
}

type stepFunc func(ctx context.Context, id types.ID, actor types.Actor) (*ride.Ride, error)

func (h *RideHandler) step(fn stepFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		r, err := fn(c.Request.Context(), id, middleware.CallerActor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, r)
	}
}

func (h *RideHandler) EnRoute() gin.HandlerFunc { return h.step(h.rides.HeadToPickup) }
func (h *RideHandler) Arrive() gin.HandlerFunc  { return h.step(h.rides.Arrive) }
func (h *RideHandler) Start() gin.HandlerFunc   { return h.step(h.rides.StartTrip) }

type completeReq struct {
	DriverNotes string `json:"driver_notes"`
}

func (h *RideHandler) Complete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req completeReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Complete(c.Request.Context(), id, middleware.CallerActor(c), req.DriverNotes)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), id, middleware.CallerActor(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
