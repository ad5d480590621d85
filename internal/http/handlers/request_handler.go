// README: Ride request handlers (create/get/cancel) and the offers posted against a request.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridemarket/internal/http/middleware"
	"ridemarket/internal/logger"
	"ridemarket/internal/maps"
	"ridemarket/internal/modules/offer"
	"ridemarket/internal/modules/request"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

// PlaceResolver completes a place that has only an address or only a point.
type PlaceResolver interface {
	Resolve(ctx context.Context, p types.Place) (types.Place, error)
}

type RequestHandler struct {
	requests *request.Service
	offers   *offer.Service
	places   PlaceResolver
	routes   maps.Router
	log      *zap.Logger
}

// NewRequestHandler builds the handler. places and routes may be nil; requests
// without a distance then rely on the rider's own fare band.
func NewRequestHandler(requests *request.Service, offers *offer.Service, places PlaceResolver, routes maps.Router, log *zap.Logger) *RequestHandler {
	return &RequestHandler{requests: requests, offers: offers, places: places, routes: routes, log: logger.OrNop(log)}
}

func (h *RequestHandler) resolve(ctx context.Context, p types.Place) types.Place {
	if h.places == nil || (p.Point != nil && p.Address != "") || (p.Point == nil && p.Address == "") {
		return p
	}
	resolved, err := h.places.Resolve(ctx, p)
	if err != nil {
		h.log.Warn("place lookup failed", logger.String("address", p.Address), logger.Err(err))
		return p
	}
	return resolved
}

type createRequestReq struct {
	Pickup        types.Place `json:"pickup"`
	Dropoff       types.Place `json:"dropoff"`
	FareMin       types.Money `json:"fare_min"`
	FareMax       types.Money `json:"fare_max"`
	DistanceKm    float64     `json:"distance_km"`
	DurationMin   float64     `json:"duration_min"`
	RideType      string      `json:"ride_type"`
	PaymentMethod string      `json:"payment_method"`
	Notes         string      `json:"notes"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if !bindJSON(c, &req) {
		return
	}
	req.Pickup = h.resolve(c.Request.Context(), req.Pickup)
	req.Dropoff = h.resolve(c.Request.Context(), req.Dropoff)
	if req.DistanceKm == 0 && h.routes != nil && !req.Pickup.IsZero() && !req.Dropoff.IsZero() {
		route, err := h.routes.Route(c.Request.Context(), req.Pickup, req.Dropoff)
		if err != nil {
			// The rider's band still stands on its own.
			h.log.Warn("route lookup failed", logger.Err(err))
		} else {
			req.DistanceKm, req.DurationMin = route.DistanceKm, route.DurationMin
		}
	}
	r, err := h.requests.CreateRequest(c.Request.Context(), request.CreateCommand{
		Rider:         middleware.CallerActor(c),
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		FareMin:       req.FareMin,
		FareMax:       req.FareMax,
		DistanceKm:    req.DistanceKm,
		DurationMin:   req.DurationMin,
		RideType:      request.RideType(req.RideType),
		PaymentMethod: ride.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// Mine lists the caller's own requests, newest first.
func (h *RequestHandler) Mine(c *gin.Context) {
	list, err := h.requests.ListByRider(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": list})
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reasonReq
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.CancelRequest(c.Request.Context(), id, middleware.CallerActor(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *RequestHandler) ListOffers(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	list, err := h.offers.ListByRequest(c.Request.Context(), id, middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"offers": list})
}

type submitOfferReq struct {
	Fare types.Money `json:"fare"`
}

func (h *RequestHandler) SubmitOffer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req submitOfferReq
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.offers.SubmitOffer(c.Request.Context(), id, middleware.CallerActor(c), req.Fare)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}
