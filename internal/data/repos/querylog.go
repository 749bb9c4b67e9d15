package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type QueryLogRepo interface {
	Create(dbc dbctx.Context, row *domain.QueryLog) (*domain.QueryLog, error)
	CountByTenant(dbc dbctx.Context, tenantID uuid.UUID) (int64, error)
	ListRecent(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*domain.QueryLog, error)
}

type queryLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQueryLogRepo(db *gorm.DB, baseLog *logger.Logger) QueryLogRepo {
	repoLog := baseLog.With("repo", "QueryLogRepo")
	return &queryLogRepo{db: db, log: repoLog}
}

func (r *queryLogRepo) Create(dbc dbctx.Context, row *domain.QueryLog) (*domain.QueryLog, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *queryLogRepo) CountByTenant(dbc dbctx.Context, tenantID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.QueryLog{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *queryLogRepo) ListRecent(dbc dbctx.Context, tenantID uuid.UUID, limit int) ([]*domain.QueryLog, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}

	var results []*domain.QueryLog
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
