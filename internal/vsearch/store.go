// Package vsearch is the vector index over chunk embeddings. Two providers
// exist: the pgvector-backed store that queries the authoritative chunk
// table, and an exact in-memory store for deployments without the extension.
// Both expose identical KNN semantics: L2 distance ascending, ties broken by
// (sourceFileId, ordinal).
package vsearch

import (
	"context"

	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
)

// Hit is one KNN result.
type Hit struct {
	Chunk    domain.Chunk `json:"chunk"`
	Distance float64      `json:"distance"`
}

// Filter narrows a query to categories or source files. Empty fields match
// everything.
type Filter struct {
	Categories    []string
	SourceFileIDs []uuid.UUID
}

type Store interface {
	// StoreChunks replaces the chunk set of one source file atomically:
	// old chunks are purged and the new batch written in one transaction.
	StoreChunks(ctx context.Context, chunks []*domain.Chunk) error
	KNN(ctx context.Context, tenantID uuid.UUID, queryVec []float32, topK int, filter Filter) ([]Hit, error)
	// DeleteSource removes every chunk of a source file.
	DeleteSource(ctx context.Context, tenantID, sourceFileID uuid.UUID) error
	// Rebuild reloads provider-local state from the chunk table. The
	// pgvector provider has none and treats this as a no-op.
	Rebuild(ctx context.Context) error
}

func (f Filter) toRepo() repos.ChunkFilter {
	return repos.ChunkFilter{Categories: f.Categories, SourceFileIDs: f.SourceFileIDs}
}

// validateBatch enforces the single-source contract and the system-wide
// embedding dimension before anything touches the store.
func validateBatch(op string, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, op, "empty chunk batch")
	}
	source := chunks[0].SourceFileID
	tenant := chunks[0].TenantID
	for _, c := range chunks {
		if c.SourceFileID != source {
			return pkgerrors.New(pkgerrors.CodeInternal, op, "chunk batch spans multiple source files")
		}
		if c.TenantID != tenant {
			return pkgerrors.New(pkgerrors.CodeInternal, op, "chunk batch spans multiple tenants")
		}
		if got := len(c.Embedding.Slice()); got != domain.EmbeddingDim {
			return pkgerrors.Newf(pkgerrors.CodeInternal, op,
				"chunk %d has embedding dimension %d, expected %d", c.Ordinal, got, domain.EmbeddingDim)
		}
	}
	return nil
}

func validateQuery(op string, queryVec []float32) error {
	if len(queryVec) != domain.EmbeddingDim {
		return pkgerrors.Newf(pkgerrors.CodeInternal, op,
			"query vector has dimension %d, expected %d", len(queryVec), domain.EmbeddingDim)
	}
	return nil
}
