package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/classify"
	"github.com/stowagehq/stowage-backend/internal/clients/embed"
	"github.com/stowagehq/stowage-backend/internal/clients/redis"
	"github.com/stowagehq/stowage-backend/internal/ingestion"
	"github.com/stowagehq/stowage-backend/internal/jsonstore"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/search"
	"github.com/stowagehq/stowage-backend/internal/services"
	"github.com/stowagehq/stowage-backend/internal/storage"
	"github.com/stowagehq/stowage-backend/internal/tenancy"
	"github.com/stowagehq/stowage-backend/internal/textindex"
	"github.com/stowagehq/stowage-backend/internal/vsearch"
)

type Services struct {
	Layout     storage.Layout
	Classifier *classify.Classifier
	Guard      tenancy.Guard

	Embed  embed.Client
	Vector vsearch.Store
	Tokens *textindex.Index

	Media   ingestion.MediaService
	Indexer ingestion.Indexer

	JSON       jsonstore.Service
	Reconciler *jsonstore.Reconciler

	Search search.Composer

	Auth  services.AuthService
	Stats services.StatsService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, rds *redis.Service) (Services, error) {
	log.Info("Wiring services...")

	layout, err := storage.NewLayout(log)
	if err != nil {
		return Services{}, fmt.Errorf("init storage layout: %w", err)
	}

	taxonomy, err := classify.LoadConfig(cfg.TaxonomyPath)
	if err != nil {
		return Services{}, fmt.Errorf("load taxonomy: %w", err)
	}
	classifier := classify.New(taxonomy)

	embedClient, err := embed.NewClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init embed client: %w", err)
	}

	guard := tenancy.NewGuard(log, reposet.Tenant)

	vec, err := wireVectorStore(log, cfg, reposet)
	if err != nil {
		return Services{}, err
	}
	tokens := textindex.NewIndex(log, reposet.Chunk, nil)

	rel := jsonstore.NewRelationalStore(db, log)
	docs := jsonstore.NewDocumentStore(rds.Client(), log)
	jsonService := jsonstore.NewService(log, reposet.CatalogJSON, rel, docs, guard, reposet.Tx)
	reconciler := jsonstore.NewReconciler(log, reposet.CatalogJSON, reposet.CatalogFile, rel, docs, layout, cfg.ReconcileInterval)

	indexer := ingestion.NewIndexer(log, reposet.CatalogFile, layout, embedClient, vec, tokens)
	mediaService := ingestion.NewMediaService(log, reposet.CatalogFile, classifier, layout, guard, reposet.Tx, indexer)

	composer := search.NewComposer(log, embedClient, vec, tokens, reposet.CatalogFile, reposet.QueryLog)

	authService := services.NewAuthService(log, reposet.Tenant, cfg.JWTSecretKey, cfg.TokenTTL)
	statsService := services.NewStatsService(log, reposet.Tenant, reposet.CatalogFile, reposet.CatalogJSON, reposet.Chunk, reposet.QueryLog, tokens)

	return Services{
		Layout:     layout,
		Classifier: classifier,
		Guard:      guard,
		Embed:      embedClient,
		Vector:     vec,
		Tokens:     tokens,
		Media:      mediaService,
		Indexer:    indexer,
		JSON:       jsonService,
		Reconciler: reconciler,
		Search:     composer,
		Auth:       authService,
		Stats:      statsService,
	}, nil
}
