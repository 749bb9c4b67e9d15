package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/clients/embed"
	"github.com/stowagehq/stowage-backend/internal/http/response"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

const healthProbeTimeout = 3 * time.Second

type HealthHandler struct {
	log      *logger.Logger
	db       *gorm.DB
	embedder embed.Client
}

func NewHealthHandler(log *logger.Logger, db *gorm.DB, embedder embed.Client) *HealthHandler {
	return &HealthHandler{
		log:      log.With("handler", "HealthHandler"),
		db:       db,
		embedder: embedder,
	}
}

// GET /healthcheck
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
	defer cancel()

	checks := gin.H{}
	healthy := true
	if h.db != nil {
		if err := h.pingStore(ctx); err != nil {
			h.log.Warn("postgres probe failed", "error", err)
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if h.embedder != nil {
		if err := h.embedder.Health(ctx); err != nil {
			h.log.Warn("embedder probe failed", "error", err)
			checks["embedder"] = err.Error()
			healthy = false
		} else {
			checks["embedder"] = "ok"
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	response.RespondOK(c, gin.H{"status": "ok", "checks": checks})
}

func (h *HealthHandler) pingStore(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
