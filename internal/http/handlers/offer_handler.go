// README: Offer negotiation handlers (accept/counter/decline).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/types"
)

type OfferHandler struct {
	offers *offer.Service
}

func NewOfferHandler(offers *offer.Service) *OfferHandler {
	return &OfferHandler{offers: offers}
}

type acceptReq struct {
	Version *int `json:"version"`
}

// Accept returns the ride the match created. The body names the offer
// version the caller is accepting.
func (h *OfferHandler) Accept(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req acceptReq
	if !bindJSON(c, &req) {
		return
	}
	if req.Version == nil || *req.Version < 0 {
		writeError(c, apperr.Validation("version of the offer being accepted is required"))
		return
	}
	r, err := h.offers.AcceptOffer(c.Request.Context(), id, *req.Version, middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

type counterReq struct {
	CounterFare types.Money `json:"counter_fare"`
}

func (h *OfferHandler) Counter(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req counterReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.offers.CounterOffer(c.Request.Context(), id, req.CounterFare, middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OfferHandler) Decline(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.offers.DeclineOffer(c.Request.Context(), id, middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

// Mine lists the calling driver's offers.
func (h *OfferHandler) Mine(c *gin.Context) {
	var statuses []offer.Status
	for _, s := range c.QueryArray("status") {
		statuses = append(statuses, offer.Status(s))
	}
	list, err := h.offers.ListByDriver(c.Request.Context(), types.ID(middleware.CallerUID(c)), statuses)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": list})
}
