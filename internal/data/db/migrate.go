package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Tenant{},
		&domain.CatalogFile{},
		&domain.CatalogJSON{},
		&domain.Chunk{},
		&domain.QueryLog{},
	)
}

func EnsureCatalogIndexes(db *gorm.DB) error {
	// uuid-ossp and vector are enabled in NewPostgresService, safe to re-run.
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error; err != nil {
		return fmt.Errorf("enable vector: %w", err)
	}

	// ANN index for the pgvector KNN path. Exact scans still work without
	// it; the memory provider never touches it.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chunk_embedding_hnsw
		ON chunk
		USING hnsw (embedding vector_l2_ops);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chunk_embedding_hnsw: %w", err)
	}

	// Fast per-source chunk reads for reindex and trie rebuild.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_chunk_tenant_source
		ON chunk (tenant_id, source_file_id, ordinal);
	`).Error; err != nil {
		return fmt.Errorf("create idx_chunk_tenant_source: %w", err)
	}

	// Tag filters on JSON catalog listings.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_catalog_json_tags
		ON catalog_json
		USING GIN (tags);
	`).Error; err != nil {
		return fmt.Errorf("create idx_catalog_json_tags: %w", err)
	}

	return nil
}
