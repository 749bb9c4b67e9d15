// Package server assembles the gin engine: middleware order, the public
// routes, and the authenticated API group.
package server

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/stowagehq/stowage-backend/internal/http/handlers"
	httpMW "github.com/stowagehq/stowage-backend/internal/http/middleware"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler *httpH.HealthHandler
	AuthHandler   *httpH.AuthHandler
	MediaHandler  *httpH.MediaHandler
	JSONHandler   *httpH.JSONHandler
	SearchHandler *httpH.SearchHandler
	StatsHandler  *httpH.StatsHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())
	r.MaxMultipartMemory = 32 << 20

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/token", cfg.AuthHandler.IssueToken)
		}
	}

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Media
		if cfg.MediaHandler != nil {
			protected.POST("/media", cfg.MediaHandler.Upload)
			protected.POST("/media/batch", cfg.MediaHandler.UploadBatch)
			protected.GET("/media", cfg.MediaHandler.List)
			protected.GET("/media/:id", cfg.MediaHandler.Get)
			protected.GET("/media/:id/content", cfg.MediaHandler.Content)
			protected.DELETE("/media/:id", cfg.MediaHandler.Delete)
			protected.POST("/media/:id/reindex", cfg.MediaHandler.Reindex)
		}

		// JSON documents
		if cfg.JSONHandler != nil {
			protected.POST("/json", cfg.JSONHandler.Ingest)
			protected.GET("/json", cfg.JSONHandler.List)
			protected.GET("/json/:id", cfg.JSONHandler.Get)
			protected.DELETE("/json/:id", cfg.JSONHandler.Delete)
		}

		// Search
		if cfg.SearchHandler != nil {
			protected.POST("/search", cfg.SearchHandler.Search)
			protected.GET("/search/autocomplete", cfg.SearchHandler.Autocomplete)
		}

		// Stats
		if cfg.StatsHandler != nil {
			protected.GET("/stats", cfg.StatsHandler.GetStats)
		}
	}

	return r
}

type Server struct {
	Engine *gin.Engine
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{Engine: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	return s.Engine.Run(address)
}
