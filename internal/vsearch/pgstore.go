package vsearch

import (
	"context"

	"github.com/google/uuid"

	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// pgStore delegates KNN to the pgvector `<->` operator over the chunk table,
// so the index and the data live in the same store.
type pgStore struct {
	log    *logger.Logger
	chunks repos.ChunkRepo
	tx     repos.TxRunner
}

func NewPgStore(baseLog *logger.Logger, chunks repos.ChunkRepo, tx repos.TxRunner) Store {
	return &pgStore{
		log:    baseLog.With("service", "VectorStorePg"),
		chunks: chunks,
		tx:     tx,
	}
}

func (s *pgStore) StoreChunks(ctx context.Context, chunks []*domain.Chunk) error {
	const op = "vsearch.StoreChunks"

	if err := validateBatch(op, chunks); err != nil {
		return err
	}

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		if err := s.chunks.DeleteBySourceFileID(dbc, chunks[0].SourceFileID); err != nil {
			return err
		}
		_, err := s.chunks.Create(dbc, chunks)
		return err
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	return nil
}

func (s *pgStore) KNN(ctx context.Context, tenantID uuid.UUID, queryVec []float32, topK int, filter Filter) ([]Hit, error) {
	const op = "vsearch.KNN"

	if err := validateQuery(op, queryVec); err != nil {
		return nil, err
	}

	rows, err := s.chunks.KNN(dbctx.Context{Ctx: ctx}, tenantID, queryVec, topK, filter.toRepo())
	if err != nil {
		return nil, pkgerrors.MapStoreError(op, err)
	}

	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		hits = append(hits, Hit{Chunk: row.Chunk, Distance: row.Distance})
	}
	return hits, nil
}

func (s *pgStore) DeleteSource(ctx context.Context, tenantID, sourceFileID uuid.UUID) error {
	const op = "vsearch.DeleteSource"

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		return s.chunks.DeleteBySourceFileID(dbc, sourceFileID)
	})
	if err != nil {
		return pkgerrors.MapStoreError(op, err)
	}
	return nil
}

func (s *pgStore) Rebuild(ctx context.Context) error {
	// The pg index is maintained by the database; nothing to reload.
	s.log.Debug("rebuild skipped, index lives in postgres")
	return nil
}
