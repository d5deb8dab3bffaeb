package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/pkg/api"
	"go.uber.org/zap"
)

// ErrorHandler renders the last error a handler attached to the context.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		// the response is already on the wire, e.g. a relayed stream
		if c.Writer.Written() {
			logger.Warn("Error after response was written",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(err),
			)
			return
		}

		var problem *api.Problem
		if errors.As(err, &problem) {
			if problem.Log != nil {
				logger.Error("Request failed",
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Int("status", problem.Status),
					zap.Error(problem.Log),
				)
			}

			// RFC 9457 dictates the json is at the root
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		logger.Error("Unhandled error",
			zap.String("request_id", c.GetString(RequestIDKey)),
			zap.Error(err),
		)

		c.JSON(http.StatusInternalServerError, api.NewError(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
		))
		c.Abort()
	}
}
