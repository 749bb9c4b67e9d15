package app

import (
	"github.com/gin-gonic/gin"

	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/server"
)

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		Log:            log,
		AuthMiddleware: middleware.Auth,
		HealthHandler:  handlers.Health,
		AuthHandler:    handlers.Auth,
		MediaHandler:   handlers.Media,
		JSONHandler:    handlers.JSON,
		SearchHandler:  handlers.Search,
		StatsHandler:   handlers.Stats,
	})
}
