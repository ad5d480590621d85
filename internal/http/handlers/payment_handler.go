// README: Payment handlers; manual settlements and the Stripe webhook.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/modules/payment"
	"ridemarket/internal/modules/ride"
	"ridemarket/internal/types"
)

// maxWebhookBytes caps webhook bodies at 64KiB.
const maxWebhookBytes = 65536

type PaymentHandler struct {
	payments *payment.Service
}

func NewPaymentHandler(payments *payment.Service) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type settlementReq struct {
	RideID    string      `json:"ride_id"`
	Amount    types.Money `json:"amount"`
	Succeeded bool        `json:"succeeded"`
	Reference string      `json:"reference"`
}

func (h *PaymentHandler) Settle(c *gin.Context) {
	var req settlementReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.RideID) {
		writeError(c, apperr.Validation("ride_id is required"))
		return
	}
	r, err := h.payments.Settle(c.Request.Context(), ride.Settlement{
		RideID:    types.ID(req.RideID),
		Amount:    req.Amount,
		Succeeded: req.Succeeded,
		Reference: req.Reference,
	}, middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

// StripeWebhook acknowledges every verified event. Stripe retries on any
// non-2xx, so only signature and collaborator failures are reported; events
// the ride refuses are answered 200 with the rejection code.
func (h *PaymentHandler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		writeError(c, apperr.Validation("read body: %v", err))
		return
	}
	r, err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	var rejected *payment.Rejection
	if errors.As(err, &rejected) {
		_ = c.Error(err)
		resp := gin.H{"received": true, "ignored": apperr.Code(rejected.Err)}
		if rejected.RideID != "" {
			resp["ride_id"] = rejected.RideID
		}
		writeJSON(c, http.StatusOK, resp)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"received": true}
	if r != nil {
		resp["ride_id"] = r.ID
		resp["status"] = r.Status
		resp["payment_status"] = r.PaymentStatus
	}
	writeJSON(c, http.StatusOK, resp)
}
