package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
)

func SeedTenant(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, quotaBytes int64) *domain.Tenant {
	tb.Helper()
	t := &domain.Tenant{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: "hash",
		Active:     true,
		QuotaBytes: quotaBytes,
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed tenant: %v", err)
	}
	return t
}

func SeedCatalogFile(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, sha256 string) *domain.CatalogFile {
	tb.Helper()
	f := &domain.CatalogFile{
		ID:            uuid.New(),
		TenantID:      tenantID,
		OriginalName:  "photo.jpg",
		Category:      "photos",
		MimeType:      "image/jpeg",
		SizeBytes:     64,
		SHA256:        sha256,
		CanonicalPath: "photos/2026/08/25/" + tenantID.String() + "_20260825_101500_abcdef123456.jpg",
		Status:        domain.ArtifactStatusActive,
		Thumbs:        datatypes.JSON([]byte("[]")),
		Metadata:      datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed catalog file: %v", err)
	}
	return f
}

func SeedChunk(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID, sourceFileID uuid.UUID, ordinal int, vec []float32) *domain.Chunk {
	tb.Helper()
	if vec == nil {
		vec = make([]float32, domain.EmbeddingDim)
	}
	c := &domain.Chunk{
		ID:           uuid.New(),
		TenantID:     tenantID,
		SourceFileID: sourceFileID,
		Ordinal:      ordinal,
		Text:         "chunk text",
		Category:     "text",
		Embedding:    pgvector.NewVector(vec),
		Metadata:     datatypes.JSON([]byte("{}")),
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed chunk: %v", err)
	}
	return c
}

func SeedCatalogJSON(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, id, backing string) *domain.CatalogJSON {
	tb.Helper()
	d := &domain.CatalogJSON{
		ID:         id,
		TenantID:   tenantID,
		Backing:    backing,
		Confidence: 0.8,
		SizeBytes:  128,
		Status:     domain.ArtifactStatusActive,
		Metrics:    datatypes.JSON([]byte("{}")),
		Tags:       datatypes.JSON([]byte("[]")),
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed catalog json: %v", err)
	}
	return d
}
