package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/textindex"
)

// TenantStats is the stats endpoint payload. Index carries process-wide
// gauges of the shared trie; everything else is scoped to the tenant.
type TenantStats struct {
	Files      []repos.CategoryStat `json:"files"`
	TotalFiles int64                `json:"totalFiles"`
	TotalBytes int64                `json:"totalBytes"`
	JSONDocs   []repos.BackingStat  `json:"jsonDocs"`
	TotalDocs  int64                `json:"totalDocs"`
	ChunkCount int64                `json:"chunkCount"`
	QueryCount int64                `json:"queryCount"`
	Index      textindex.Stats      `json:"index"`
	UsedBytes  int64                `json:"usedBytes"`
	QuotaBytes int64                `json:"quotaBytes"`
}

type StatsService interface {
	TenantStats(ctx context.Context, tenantID uuid.UUID) (*TenantStats, error)
}

type statsService struct {
	log     *logger.Logger
	tenants repos.TenantRepo
	files   repos.CatalogFileRepo
	docs    repos.CatalogJSONRepo
	chunks  repos.ChunkRepo
	queries repos.QueryLogRepo
	tokens  *textindex.Index
}

func NewStatsService(baseLog *logger.Logger, tenants repos.TenantRepo, files repos.CatalogFileRepo, docs repos.CatalogJSONRepo, chunks repos.ChunkRepo, queries repos.QueryLogRepo, tokens *textindex.Index) StatsService {
	return &statsService{
		log:     baseLog.With("service", "StatsService"),
		tenants: tenants,
		files:   files,
		docs:    docs,
		chunks:  chunks,
		queries: queries,
		tokens:  tokens,
	}
}

// TenantStats aggregates one tenant's footprint: files and bytes per
// category, JSON documents per backing, chunk and query counts, and quota
// usage. Each figure is one aggregation query.
func (s *statsService) TenantStats(ctx context.Context, tenantID uuid.UUID) (*TenantStats, error) {
	const op = "StatsService.TenantStats"

	dbc := dbctx.Context{Ctx: ctx}

	tenant, err := s.tenants.GetByID(dbc, tenantID)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	byCategory, err := s.files.StatsByCategory(dbc, tenantID)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	byBacking, err := s.docs.StatsByBacking(dbc, tenantID)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	chunkCount, err := s.chunks.CountByTenant(dbc, tenantID)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}
	queryCount, err := s.queries.CountByTenant(dbc, tenantID)
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}

	stats := &TenantStats{
		Files:      byCategory,
		JSONDocs:   byBacking,
		ChunkCount: chunkCount,
		QueryCount: queryCount,
		Index:      s.tokens.Stats(),
		UsedBytes:  tenant.UsedBytes,
		QuotaBytes: tenant.QuotaBytes,
	}
	for _, st := range byCategory {
		stats.TotalFiles += st.FileCount
		stats.TotalBytes += st.TotalSize
	}
	for _, st := range byBacking {
		stats.TotalDocs += st.DocCount
	}
	return stats, nil
}
