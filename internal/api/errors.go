package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"livechat/internal/apperr"
	"livechat/internal/logging"
)

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an ErrorResponse. Server-side failures are logged and their details withheld.
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{
		Error:     kind.String(),
		Message:   err.Error(),
		Fields:    apperr.FieldsOf(err),
		Retryable: apperr.IsRetryable(err),
	}
	logger := logging.FromContext(c.Request.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("[API] Request failed", "status", status, "error", err)
		resp.Message = http.StatusText(status)
	} else {
		logger.Debug("[API] Request rejected", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}
