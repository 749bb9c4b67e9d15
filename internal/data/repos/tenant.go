package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type TenantRepo interface {
	Create(dbc dbctx.Context, tenant *domain.Tenant) (*domain.Tenant, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Tenant, error)
	GetByName(dbc dbctx.Context, name string) (*domain.Tenant, error)
	List(dbc dbctx.Context) ([]*domain.Tenant, error)

	// ReserveUsage atomically adds bytes to used_bytes only when the new
	// total stays within quota_bytes. Returns false when the reservation
	// would cross the quota.
	ReserveUsage(dbc dbctx.Context, id uuid.UUID, bytes int64) (bool, error)

	// AdjustUsage adds delta (may be negative) to used_bytes, clamped at 0.
	AdjustUsage(dbc dbctx.Context, id uuid.UUID, delta int64) error
}

type tenantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantRepo(db *gorm.DB, baseLog *logger.Logger) TenantRepo {
	repoLog := baseLog.With("repo", "TenantRepo")
	return &tenantRepo{db: db, log: repoLog}
}

func (r *tenantRepo) Create(dbc dbctx.Context, tenant *domain.Tenant) (*domain.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).Create(tenant).Error; err != nil {
		return nil, err
	}
	return tenant, nil
}

func (r *tenantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var result domain.Tenant
	if err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *tenantRepo) GetByName(dbc dbctx.Context, name string) (*domain.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var result domain.Tenant
	if err := transaction.WithContext(dbc.Ctx).
		Where("name = ?", name).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *tenantRepo) List(dbc dbctx.Context) ([]*domain.Tenant, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.Tenant
	if err := transaction.WithContext(dbc.Ctx).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *tenantRepo) ReserveUsage(dbc dbctx.Context, id uuid.UUID, bytes int64) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if bytes < 0 {
		bytes = 0
	}

	res := transaction.WithContext(dbc.Ctx).
		Model(&domain.Tenant{}).
		Where("id = ? AND used_bytes + ? <= quota_bytes", id, bytes).
		Update("used_bytes", gorm.Expr("used_bytes + ?", bytes))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *tenantRepo) AdjustUsage(dbc dbctx.Context, id uuid.UUID, delta int64) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.Tenant{}).
		Where("id = ?", id).
		Update("used_bytes", gorm.Expr("GREATEST(used_bytes + ?, 0)", delta)).Error; err != nil {
		return err
	}
	return nil
}
