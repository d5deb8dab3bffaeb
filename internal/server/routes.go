package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/chat-relay/internal/server/middleware"
	v1 "github.com/nulzo/chat-relay/internal/server/v1"
	"github.com/nulzo/chat-relay/internal/server/validator"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.service)
	s.router.GET("/health", healthHandler.Health)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.verifier, s.logger))
	{
		chatHandler := v1.NewChatHandler(s.service, validator.New(), s.logger)
		api.POST("/chat/completions", chatHandler.CreateCompletion)
	}
}
