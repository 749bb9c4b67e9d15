package app

import (
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type Repos struct {
	Tenant      repos.TenantRepo
	CatalogFile repos.CatalogFileRepo
	CatalogJSON repos.CatalogJSONRepo
	Chunk       repos.ChunkRepo
	QueryLog    repos.QueryLogRepo
	Tx          repos.TxRunner
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Tenant:      repos.NewTenantRepo(db, log),
		CatalogFile: repos.NewCatalogFileRepo(db, log),
		CatalogJSON: repos.NewCatalogJSONRepo(db, log),
		Chunk:       repos.NewChunkRepo(db, log),
		QueryLog:    repos.NewQueryLogRepo(db, log),
		Tx:          repos.NewGormTxRunner(db),
	}
}
