// README: Dashboard projections over HTTP (driver available/active/earnings, admin monitor).
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/http/middleware"
	"ridemarket/internal/modules/dashboard"
)

// defaultEarningsWindow applies when ?since is absent.
const defaultEarningsWindow = 7 * 24 * time.Hour

type DashboardHandler struct {
	dash *dashboard.Service
	now  func() time.Time
}

func NewDashboardHandler(dash *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{dash: dash, now: time.Now}
}

func (h *DashboardHandler) Available(c *gin.Context) {
	list, err := h.dash.AvailableRides(c.Request.Context(), middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": list})
}

func (h *DashboardHandler) Active(c *gin.Context) {
	list, err := h.dash.ActiveRides(c.Request.Context(), middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rides": list})
}

func (h *DashboardHandler) Earnings(c *gin.Context) {
	since, err := parseSince(c.Query("since"), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := h.dash.Earnings(c.Request.Context(), middleware.CallerActor(c), since)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

func (h *DashboardHandler) Monitor(c *gin.Context) {
	m, err := h.dash.AdminMonitor(c.Request.Context(), middleware.CallerActor(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, m)
}

// parseSince accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.Add(-defaultEarningsWindow), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("since %q is neither RFC 3339 nor YYYY-MM-DD", v)
}
