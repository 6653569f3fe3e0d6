package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/common"
)

// RequireAdminToken guards operator endpoints with a shared token sent as
// "Authorization: Bearer <token>" or "X-Admin-Token". An empty token disables the routes.
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			common.ErrorResponse(c, http.StatusForbidden, "admin API is disabled", nil)
			c.Abort()
			return
		}

		given := c.GetHeader("X-Admin-Token")
		if given == "" {
			given = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if given == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "admin token required", common.ErrUnauthorized)
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			common.ErrorResponse(c, http.StatusForbidden, "invalid admin token", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
