// README: Fare estimate handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ridemarket/internal/logger"
	"ridemarket/internal/maps"
	"ridemarket/internal/modules/pricing"
	"ridemarket/internal/types"
)

type FareHandler struct {
	pricing *pricing.Service
	routes  maps.Router
	log     *zap.Logger
}

func NewFareHandler(pricing *pricing.Service, routes maps.Router, log *zap.Logger) *FareHandler {
	return &FareHandler{pricing: pricing, routes: routes, log: logger.OrNop(log)}
}

type estimateReq struct {
	Pickup      types.Place `json:"pickup"`
	Dropoff     types.Place `json:"dropoff"`
	DistanceKm  float64     `json:"distance_km"`
	DurationMin float64     `json:"duration_min"`
	RideType    string      `json:"ride_type"`
}

type estimateResp struct {
	RideType    string           `json:"ride_type"`
	DistanceKm  float64          `json:"distance_km"`
	DurationMin float64          `json:"duration_min"`
	Total       types.Money      `json:"total"`
	Breakdown   map[string]int64 `json:"breakdown"`
	FareMin     types.Money      `json:"fare_min"`
	FareMax     types.Money      `json:"fare_max"`
}

func (h *FareHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if req.DistanceKm == 0 && h.routes != nil && !req.Pickup.IsZero() && !req.Dropoff.IsZero() {
		route, err := h.routes.Route(ctx, req.Pickup, req.Dropoff)
		if err != nil {
			writeError(c, err)
			return
		}
		req.DistanceKm, req.DurationMin = route.DistanceKm, route.DurationMin
	}
	if req.RideType == "" {
		req.RideType = "standard"
	}
	res, err := h.pricing.Estimate(ctx, pricing.PricingRequest{
		DistanceKm:  req.DistanceKm,
		DurationMin: req.DurationMin,
		RideType:    req.RideType,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	lo, hi, err := h.pricing.EstimateBand(ctx, req.DistanceKm, req.DurationMin, req.RideType)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, estimateResp{
		RideType:    req.RideType,
		DistanceKm:  req.DistanceKm,
		DurationMin: req.DurationMin,
		Total:       res.Total,
		Breakdown:   res.Breakdown,
		FareMin:     lo,
		FareMax:     hi,
	})
}
