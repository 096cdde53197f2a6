package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
)

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation, apperr.KindIntegrity:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": kind, "message": description}. Internal
// errors are logged with their full chain and answered generically.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{
		"error":   kind.String(),
		"message": apperr.Message(err),
	}
	switch kind {
	case apperr.KindInternal:
		logger.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	case apperr.KindUnavailable:
		body["retryable"] = true
		logger.Warn("dependency unavailable", zap.String("route", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(statusFor(kind), body)
}
