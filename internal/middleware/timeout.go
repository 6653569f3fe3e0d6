package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smartpop/popup-analytics/internal/common"
)

// RequestTimeout bounds the request context. Handlers that observe the deadline
// get context.DeadlineExceeded; if nothing was written yet a 504 is returned.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if !c.Writer.Written() && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			common.ErrorResponse(c, http.StatusGatewayTimeout, "request timed out", ctx.Err())
		}
	}
}
