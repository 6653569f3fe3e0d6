package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIResponse standard API response structure
type APIResponse struct {
	Data  interface{} `json:"data"`
	Meta  *Meta       `json:"meta,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
}

// Meta additional response metadata
type Meta struct {
	ShopDomain string `json:"shop_domain,omitempty"`
	Timeframe  string `json:"timeframe,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// ErrorInfo error details
type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse returns a successful JSON response
func SuccessResponse(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, APIResponse{
		Data: data,
		Meta: meta,
	})
}

// ErrorResponse returns an error JSON response.
// err is only exposed as details outside release mode.
func ErrorResponse(c *gin.Context, status int, message string, err error) {
	errInfo := &ErrorInfo{
		Code:    getErrorCode(status),
		Message: message,
	}
	if err != nil && gin.Mode() != gin.ReleaseMode {
		errInfo.Details = err.Error()
	}

	c.JSON(status, APIResponse{Error: errInfo})
}

// ErrorResponseWithDetails returns an error JSON response carrying structured details
// (validation index, partial counts) regardless of mode.
func ErrorResponseWithDetails(c *gin.Context, status int, message string, details interface{}) {
	c.JSON(status, APIResponse{
		Error: &ErrorInfo{
			Code:    getErrorCode(status),
			Message: message,
			Details: details,
		},
	})
}

// getErrorCode generates error code from HTTP status
func getErrorCode(status int) string {
	switch status {
	case 400:
		return "BAD_REQUEST"
	case 401:
		return "UNAUTHORIZED"
	case 403:
		return "FORBIDDEN"
	case 404:
		return "NOT_FOUND"
	case 409:
		return "CONFLICT"
	case 413:
		return "PAYLOAD_TOO_LARGE"
	case 429:
		return "RATE_LIMITED"
	case 500:
		return "INTERNAL_SERVER_ERROR"
	case 504:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}
