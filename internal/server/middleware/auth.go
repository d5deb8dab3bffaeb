package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/internal/auth"
	"github.com/nulzo/chat-relay/pkg/api"
	"go.uber.org/zap"
)

// Auth checks for a valid Bearer token in the Authorization header.
func Auth(verifier auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			_ = c.Error(api.UnauthorizedError("Missing or malformed Authorization header"))
			c.Abort()
			return
		}

		verified, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Warn("Bearer verification unavailable",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(err),
			)
		}
		if !verified {
			_ = c.Error(api.UnauthorizedError("Invalid API Key"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
