package repos

import (
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

// ChunkFilter narrows a KNN query to categories or source files.
type ChunkFilter struct {
	Categories    []string
	SourceFileIDs []uuid.UUID
}

type ChunkWithDistance struct {
	domain.Chunk
	Distance float64 `json:"distance"`
}

type ChunkRepo interface {
	Create(dbc dbctx.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error)
	GetBySourceFileID(dbc dbctx.Context, sourceFileID uuid.UUID) ([]*domain.Chunk, error)
	DeleteBySourceFileID(dbc dbctx.Context, sourceFileID uuid.UUID) error
	KNN(dbc dbctx.Context, tenantID uuid.UUID, vec []float32, topK int, filter ChunkFilter) ([]ChunkWithDistance, error)
	ForEachBatch(dbc dbctx.Context, batchSize int, fn func(chunks []*domain.Chunk) error) error
	CountByTenant(dbc dbctx.Context, tenantID uuid.UUID) (int64, error)
}

type chunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChunkRepo(db *gorm.DB, baseLog *logger.Logger) ChunkRepo {
	repoLog := baseLog.With("repo", "ChunkRepo")
	return &chunkRepo{db: db, log: repoLog}
}

func (r *chunkRepo) Create(dbc dbctx.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*domain.Chunk{}, nil
	}

	// Keep batches small because Text and Embedding are large.
	const batchSize = 100

	if err := transaction.WithContext(dbc.Ctx).CreateInBatches(chunks, batchSize).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *chunkRepo) GetBySourceFileID(dbc dbctx.Context, sourceFileID uuid.UUID) ([]*domain.Chunk, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Chunk
	if err := transaction.WithContext(dbc.Ctx).
		Where("source_file_id = ?", sourceFileID).
		Order("ordinal ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *chunkRepo) DeleteBySourceFileID(dbc dbctx.Context, sourceFileID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Where("source_file_id = ?", sourceFileID).
		Delete(&domain.Chunk{}).Error; err != nil {
		return err
	}
	return nil
}

func (r *chunkRepo) KNN(dbc dbctx.Context, tenantID uuid.UUID, vec []float32, topK int, filter ChunkFilter) ([]ChunkWithDistance, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(dbc.Ctx).
		Model(&domain.Chunk{}).
		Select("*, embedding <-> ? AS distance", pgvector.NewVector(vec)).
		Where("tenant_id = ?", tenantID)
	if len(filter.Categories) > 0 {
		q = q.Where("category IN ?", filter.Categories)
	}
	if len(filter.SourceFileIDs) > 0 {
		q = q.Where("source_file_id IN ?", filter.SourceFileIDs)
	}

	var results []ChunkWithDistance
	if err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{
			SQL:                "embedding <-> ? ASC, source_file_id ASC, ordinal ASC",
			Vars:               []interface{}{pgvector.NewVector(vec)},
			WithoutParentheses: true,
		},
	}).
		Limit(topK).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ForEachBatch streams every chunk through fn. Startup index rebuilds use
// this instead of loading the whole table at once.
func (r *chunkRepo) ForEachBatch(dbc dbctx.Context, batchSize int, fn func(chunks []*domain.Chunk) error) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	var batch []*domain.Chunk
	res := transaction.WithContext(dbc.Ctx).
		Order("source_file_id ASC, ordinal ASC").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
			return fn(batch)
		})
	return res.Error
}

func (r *chunkRepo) CountByTenant(dbc dbctx.Context, tenantID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.Chunk{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
