// README: Bearer-token auth middleware; puts the verified caller on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridemarket/internal/infra"
	"ridemarket/internal/types"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"
)

// Auth rejects requests without a valid bearer token. Websocket clients that
// cannot set headers may pass the token as ?access_token=.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			abortUnauthorized(c, "invalid token")
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, token.Role)
		c.Next()
	}
}

func bearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("access_token"); q != "" {
			return q, true
		}
		return "", false
	}
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(raw) == "" {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": msg})
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// CallerActor maps the verified token to a core actor. Tokens without a role
// claim belong to riders.
func CallerActor(c *gin.Context) types.Actor {
	id := types.ID(CallerUID(c))
	switch types.Role(CallerRole(c)) {
	case types.RoleDriver:
		return types.Driver(id)
	case types.RoleAdmin:
		return types.Admin(id)
	default:
		return types.Rider(id)
	}
}
