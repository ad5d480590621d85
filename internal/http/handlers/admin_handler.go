// README: Admin handlers for driver verification and fare rates.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/http/middleware"
	"ridemarket/internal/modules/driver"
	"ridemarket/internal/modules/pricing"
)

type AdminHandler struct {
	drivers *driver.Service
	pricing *pricing.Service
}

func NewAdminHandler(drivers *driver.Service, pricing *pricing.Service) *AdminHandler {
	return &AdminHandler{drivers: drivers, pricing: pricing}
}

func (h *AdminHandler) GetDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.drivers.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

type verificationReq struct {
	Status string `json:"status"`
}

func (h *AdminHandler) SetVerification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req verificationReq
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.drivers.SetStatus(c.Request.Context(), middleware.CallerActor(c), id, driver.VerificationStatus(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *AdminHandler) PutFareRate(c *gin.Context) {
	var rate pricing.Rate
	if !bindJSON(c, &rate) {
		return
	}
	rate.RideType = c.Param("ride_type")
	saved, err := h.pricing.SetRate(c.Request.Context(), middleware.CallerActor(c), rate)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, saved)
}
