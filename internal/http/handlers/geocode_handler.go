// README: Geocoding passthrough used by rider apps before creating a request.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Place, error)
	Reverse(ctx context.Context, lat, lng float64) (types.Place, error)
}

type GeocodeHandler struct {
	places Geocoder
}

// NewGeocodeHandler accepts a nil geocoder; every lookup then reports the
// collaborator as unavailable.
func NewGeocodeHandler(places Geocoder) *GeocodeHandler {
	return &GeocodeHandler{places: places}
}

// Lookup serves ?address=... or ?lat=..&lng=...
func (h *GeocodeHandler) Lookup(c *gin.Context) {
	if h.places == nil {
		writeError(c, apperr.Unavailable(errors.New("geocoding is not configured")))
		return
	}
	ctx := c.Request.Context()
	if addr := c.Query("address"); addr != "" {
		p, err := h.places.Geocode(ctx, addr)
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, p)
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, apperr.Validation("address or lat/lng is required"))
		return
	}
	p, err := h.places.Reverse(ctx, lat, lng)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
