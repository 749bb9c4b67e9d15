package ingestion

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stowagehq/stowage-backend/internal/chunker"
	"github.com/stowagehq/stowage-backend/internal/clients/embed"
	"github.com/stowagehq/stowage-backend/internal/data/repos"
	"github.com/stowagehq/stowage-backend/internal/domain"
	pkgerrors "github.com/stowagehq/stowage-backend/internal/pkg/errors"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
	"github.com/stowagehq/stowage-backend/internal/storage"
	"github.com/stowagehq/stowage-backend/internal/textindex"
	"github.com/stowagehq/stowage-backend/internal/vsearch"
)

const (
	embedBatchSize   = 64
	embedConcurrency = 4

	// maxIndexableBytes caps how much content one reindex will read into
	// memory. Larger files are stored fine but refuse to index.
	maxIndexableBytes = 16 << 20
)

// Indexer moves catalog files in and out of the vector store and the token
// index.
type Indexer interface {
	// Reindex rebuilds the chunk set for one file and returns the chunk
	// count. A call that arrives while the same file is already being
	// indexed waits for and shares the in-flight run's result.
	Reindex(ctx context.Context, tenantID, fileID uuid.UUID) (int, error)
	// RemoveSource drops a file's chunks and token postings. Safe on files
	// that were never indexed.
	RemoveSource(ctx context.Context, tenantID, fileID uuid.UUID) error
}

type indexer struct {
	log    *logger.Logger
	files  repos.CatalogFileRepo
	lay    storage.Layout
	embed  embed.Client
	vec    vsearch.Store
	tokens *textindex.Index
	flight singleflight.Group
}

func NewIndexer(
	baseLog *logger.Logger,
	files repos.CatalogFileRepo,
	lay storage.Layout,
	embedClient embed.Client,
	vec vsearch.Store,
	tokens *textindex.Index,
) Indexer {
	return &indexer{
		log:    baseLog.With("service", "Indexer"),
		files:  files,
		lay:    lay,
		embed:  embedClient,
		vec:    vec,
		tokens: tokens,
	}
}

func (ix *indexer) Reindex(ctx context.Context, tenantID, fileID uuid.UUID) (int, error) {
	key := tenantID.String() + "/" + fileID.String()
	v, err, _ := ix.flight.Do(key, func() (any, error) {
		return ix.reindex(ctx, tenantID, fileID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (ix *indexer) reindex(ctx context.Context, tenantID, fileID uuid.UUID) (int, error) {
	const op = "ingestion.Reindex"

	file, err := ix.files.GetByID(dbctx.Context{Ctx: ctx}, tenantID, fileID)
	if err != nil {
		return 0, pkgerrors.MapStoreError(op, err)
	}
	if file.Status == domain.ArtifactStatusOrphaned {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, op, "content of file %s is gone", fileID)
	}
	if file.SizeBytes > maxIndexableBytes {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, op,
			"file %s is too large to index (%d bytes)", fileID, file.SizeBytes)
	}

	f, err := ix.lay.Open(file.CanonicalPath)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return 0, pkgerrors.Newf(pkgerrors.CodeInternal, op,
				"content missing for active file %s", fileID)
		}
		return 0, err
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, op, err)
	}

	text, err := extractText(file.OriginalName, file.MimeType, data)
	if err != nil {
		return 0, err
	}
	pieces := chunker.Split(text)
	if len(pieces) == 0 {
		// Nothing indexable. Clear whatever an earlier run stored.
		if err := ix.vec.DeleteSource(ctx, tenantID, fileID); err != nil {
			return 0, err
		}
		ix.tokens.RemoveDocument(fileID)
		if err := ix.files.SetIndexed(dbctx.Context{Ctx: ctx}, fileID, false); err != nil {
			return 0, pkgerrors.MapStoreError(op, err)
		}
		ix.log.Info("file has no indexable text", "tenantId", tenantID, "fileId", fileID)
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := ix.embedAll(ctx, texts)
	if err != nil {
		return 0, err
	}

	chunks := make([]*domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &domain.Chunk{
			TenantID:     tenantID,
			SourceFileID: fileID,
			Ordinal:      p.Ordinal,
			Text:         p.Text,
			Category:     file.Category,
			Embedding:    pgvector.NewVector(vectors[i]),
		}
	}
	if err := ix.vec.StoreChunks(ctx, chunks); err != nil {
		return 0, err
	}

	// Token postings follow only once the chunk rows are committed, so the
	// trie never points at chunks a rollback took away.
	ix.tokens.IndexDocument(fileID, texts)

	if err := ix.files.SetIndexed(dbctx.Context{Ctx: ctx}, fileID, true); err != nil {
		return 0, pkgerrors.MapStoreError(op, err)
	}

	ix.log.Info("file indexed",
		"tenantId", tenantID, "fileId", fileID,
		"chunks", len(chunks), "category", file.Category)
	return len(chunks), nil
}

// embedAll embeds texts in fixed-size batches with a few in flight at once.
// Batches cover disjoint ranges of out, so workers write without locking.
func (ix *indexer) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "ingestion.embed"

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(texts); start += embedBatchSize {
		start := start
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := ix.embed.Embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vecs) != end-start {
				return pkgerrors.Newf(pkgerrors.CodeEmbeddingUnavailable, op,
					"embedding service returned %d vectors for %d inputs", len(vecs), end-start)
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (ix *indexer) RemoveSource(ctx context.Context, tenantID, fileID uuid.UUID) error {
	if err := ix.vec.DeleteSource(ctx, tenantID, fileID); err != nil {
		return err
	}
	ix.tokens.RemoveDocument(fileID)
	return nil
}
