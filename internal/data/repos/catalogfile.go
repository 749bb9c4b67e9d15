package repos

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type CatalogFileListOptions struct {
	Category string
	Limit    int
	Offset   int
}

type CategoryStat struct {
	Category  string `json:"category"`
	FileCount int64  `json:"file_count"`
	TotalSize int64  `json:"total_size"`
}

type CatalogFileRepo interface {
	Create(dbc dbctx.Context, file *domain.CatalogFile) (*domain.CatalogFile, error)
	GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.CatalogFile, error)
	GetBySHA256(dbc dbctx.Context, tenantID uuid.UUID, sha256 string) (*domain.CatalogFile, error)
	List(dbc dbctx.Context, tenantID uuid.UUID, opts CatalogFileListOptions) ([]*domain.CatalogFile, error)
	ListPage(dbc dbctx.Context, offset, limit int) ([]*domain.CatalogFile, error)
	SetIndexed(dbc dbctx.Context, id uuid.UUID, indexed bool) error
	SetThumbs(dbc dbctx.Context, id uuid.UUID, thumbs datatypes.JSON) error
	SetStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	DeleteByID(dbc dbctx.Context, tenantID, id uuid.UUID) error
	StatsByCategory(dbc dbctx.Context, tenantID uuid.UUID) ([]CategoryStat, error)

	// OwnedIDs filters ids down to those belonging to tenantID.
	OwnedIDs(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error)
}

type catalogFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCatalogFileRepo(db *gorm.DB, baseLog *logger.Logger) CatalogFileRepo {
	repoLog := baseLog.With("repo", "CatalogFileRepo")
	return &catalogFileRepo{db: db, log: repoLog}
}

func (r *catalogFileRepo) Create(dbc dbctx.Context, file *domain.CatalogFile) (*domain.CatalogFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).Create(file).Error; err != nil {
		return nil, err
	}
	return file, nil
}

func (r *catalogFileRepo) GetByID(dbc dbctx.Context, tenantID, id uuid.UUID) (*domain.CatalogFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var result domain.CatalogFile
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *catalogFileRepo) GetBySHA256(dbc dbctx.Context, tenantID uuid.UUID, sha256 string) (*domain.CatalogFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var result domain.CatalogFile
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND sha256 = ?", tenantID, sha256).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *catalogFileRepo) List(dbc dbctx.Context, tenantID uuid.UUID, opts CatalogFileListOptions) ([]*domain.CatalogFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if opts.Category != "" {
		q = q.Where("category = ?", opts.Category)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var results []*domain.CatalogFile
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListPage walks the whole catalog in created_at order, all tenants. The
// reconciler uses it to find rows whose bytes have vanished.
func (r *catalogFileRepo) ListPage(dbc dbctx.Context, offset, limit int) ([]*domain.CatalogFile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.CatalogFile
	if err := transaction.WithContext(dbc.Ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *catalogFileRepo) SetIndexed(dbc dbctx.Context, id uuid.UUID, indexed bool) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogFile{}).
		Where("id = ?", id).
		Update("indexed", indexed).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogFileRepo) SetThumbs(dbc dbctx.Context, id uuid.UUID, thumbs datatypes.JSON) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogFile{}).
		Where("id = ?", id).
		Update("thumbs", thumbs).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogFileRepo) SetStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogFile{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogFileRepo) DeleteByID(dbc dbctx.Context, tenantID, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.CatalogFile{}).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogFileRepo) OwnedIDs(dbc dbctx.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]uuid.UUID, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if len(ids) == 0 {
		return nil, nil
	}

	var owned []uuid.UUID
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogFile{}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Pluck("id", &owned).Error; err != nil {
		return nil, err
	}
	return owned, nil
}

func (r *catalogFileRepo) StatsByCategory(dbc dbctx.Context, tenantID uuid.UUID) ([]CategoryStat, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []CategoryStat
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogFile{}).
		Select("category, COUNT(*) AS file_count, COALESCE(SUM(size_bytes), 0) AS total_size").
		Where("tenant_id = ?", tenantID).
		Group("category").
		Order("category ASC").
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
