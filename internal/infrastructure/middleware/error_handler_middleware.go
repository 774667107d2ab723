package middleware

import (
	"errors"
	"net/http"

	"midimesh/internal/core/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware maps errors attached to the gin context onto HTTP
// responses. Domain sentinel errors get specific status codes; everything
// else is an internal error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrPeerNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrInvalidArgument):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrSessionFull):
			status = http.StatusConflict
		case errors.Is(err, domain.ErrVersionUnsupported):
			status = http.StatusUpgradeRequired
		}

		logger.Errorw("request failed",
			"error", err.Error(),
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(status, gin.H{"error": err.Error()})
	}
}
