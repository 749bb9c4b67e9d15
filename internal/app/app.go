package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/clients/redis"
	"github.com/stowagehq/stowage-backend/internal/data/db"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Redis    *redis.Service
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	cancel   context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log := logger.New(logMode)

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	rds, err := redis.NewService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, cfg, reposet, rds)
	if err != nil {
		rds.Close()
		log.Sync()
		return nil, err
	}

	// The in-memory indexes reload from the chunk table before the first
	// request; the pgvector provider treats its rebuild as a no-op.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer warmCancel()
	if err := serviceset.Vector.Rebuild(warmCtx); err != nil {
		rds.Close()
		log.Sync()
		return nil, fmt.Errorf("rebuild vector store: %w", err)
	}
	if err := serviceset.Tokens.Rebuild(warmCtx); err != nil {
		rds.Close()
		log.Sync()
		return nil, fmt.Errorf("rebuild token index: %w", err)
	}

	// The health probe embeds a token and verifies the vector dimension.
	// A wrong dimension is a misconfiguration and refuses to start; a dead
	// embedder is not fatal, uploads and JSON routing still work and the
	// healthcheck reports the degradation.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	probeErr := serviceset.Embed.Health(probeCtx)
	probeCancel()
	if probeErr != nil {
		if pkgerrors.CodeOf(probeErr) == pkgerrors.CodeInternal {
			rds.Close()
			log.Sync()
			return nil, fmt.Errorf("embedding provider misconfigured: %w", probeErr)
		}
		log.Warn("embedding backend unreachable at startup", "error", probeErr.Error())
	}

	if cfg.TenantName != "" && cfg.TenantAPIKey != "" {
		bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
		tenant, err := serviceset.Auth.BootstrapTenant(bootCtx, cfg.TenantName, cfg.TenantAPIKey, cfg.TenantQuotaBytes)
		bootCancel()
		if err != nil {
			rds.Close()
			log.Sync()
			return nil, fmt.Errorf("bootstrap tenant: %w", err)
		}
		log.Info("bootstrap tenant ready", "tenant_id", tenant.ID.String(), "name", tenant.Name)
	}

	handlerset := wireHandlers(log, theDB, serviceset)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Redis:    rds,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
	}, nil
}

// Start launches the background reconciler. Safe to call once.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Reconciler != nil {
		go a.Services.Reconciler.Run(ctx)
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
