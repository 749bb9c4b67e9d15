package app

import (
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/http/handlers"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type Handlers struct {
	Health *handlers.HealthHandler
	Auth   *handlers.AuthHandler
	Media  *handlers.MediaHandler
	JSON   *handlers.JSONHandler
	Search *handlers.SearchHandler
	Stats  *handlers.StatsHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health: handlers.NewHealthHandler(log, db, services.Embed),
		Auth:   handlers.NewAuthHandler(services.Auth),
		Media:  handlers.NewMediaHandler(log, services.Media, services.Indexer),
		JSON:   handlers.NewJSONHandler(log, services.JSON),
		Search: handlers.NewSearchHandler(log, services.Search),
		Stats:  handlers.NewStatsHandler(log, services.Stats),
	}
}
