// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/apperr"
	"ridemarket/internal/types"
)

type errorResponse struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// isValidID accepts the generator's UUIDs and the short ids used by
// external identity providers.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, apperr.Validation("invalid %s", name))
		return "", false
	}
	return types.ID(v), true
}

// bindJSON decodes an optional body. An empty body leaves v untouched.
func bindJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, apperr.Validation("invalid json: %v", err))
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrCollaboratorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps an error kind onto a status and a machine code. Internal
// errors keep their message out of the response.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := errorResponse{Code: apperr.Code(err), Error: err.Error()}
	switch status {
	case http.StatusServiceUnavailable:
		resp.Retryable = true
	case http.StatusInternalServerError:
		resp.Error = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
