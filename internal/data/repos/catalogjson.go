package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stowagehq/stowage-backend/internal/domain"
	"github.com/stowagehq/stowage-backend/internal/platform/dbctx"
	"github.com/stowagehq/stowage-backend/internal/platform/logger"
)

type CatalogJSONListOptions struct {
	Backing string
	Limit   int
	Offset  int
}

type BackingStat struct {
	Backing  string `json:"backing"`
	DocCount int64  `json:"doc_count"`
}

type CatalogJSONRepo interface {
	Create(dbc dbctx.Context, doc *domain.CatalogJSON) (*domain.CatalogJSON, error)
	GetByID(dbc dbctx.Context, tenantID uuid.UUID, id string) (*domain.CatalogJSON, error)
	List(dbc dbctx.Context, tenantID uuid.UUID, opts CatalogJSONListOptions) ([]*domain.CatalogJSON, error)
	ListIDs(dbc dbctx.Context) ([]string, error)
	ListPage(dbc dbctx.Context, offset, limit int) ([]*domain.CatalogJSON, error)
	SetStatus(dbc dbctx.Context, id string, status string) error
	DeleteByID(dbc dbctx.Context, tenantID uuid.UUID, id string) error
	StatsByBacking(dbc dbctx.Context, tenantID uuid.UUID) ([]BackingStat, error)
}

type catalogJSONRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCatalogJSONRepo(db *gorm.DB, baseLog *logger.Logger) CatalogJSONRepo {
	repoLog := baseLog.With("repo", "CatalogJSONRepo")
	return &catalogJSONRepo{db: db, log: repoLog}
}

func (r *catalogJSONRepo) Create(dbc dbctx.Context, doc *domain.CatalogJSON) (*domain.CatalogJSON, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *catalogJSONRepo) GetByID(dbc dbctx.Context, tenantID uuid.UUID, id string) (*domain.CatalogJSON, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var result domain.CatalogJSON
	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&result).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *catalogJSONRepo) List(dbc dbctx.Context, tenantID uuid.UUID, opts CatalogJSONListOptions) ([]*domain.CatalogJSON, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	q := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if opts.Backing != "" {
		q = q.Where("backing = ?", opts.Backing)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var results []*domain.CatalogJSON
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListIDs returns every catalog id across tenants. The reconciler diffs
// this set against the payload stores to find orphans.
func (r *catalogJSONRepo) ListIDs(dbc dbctx.Context) ([]string, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var ids []string
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogJSON{}).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *catalogJSONRepo) ListPage(dbc dbctx.Context, offset, limit int) ([]*domain.CatalogJSON, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*domain.CatalogJSON
	if err := transaction.WithContext(dbc.Ctx).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *catalogJSONRepo) SetStatus(dbc dbctx.Context, id string, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogJSON{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogJSONRepo) DeleteByID(dbc dbctx.Context, tenantID uuid.UUID, id string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(dbc.Ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.CatalogJSON{}).Error; err != nil {
		return err
	}
	return nil
}

func (r *catalogJSONRepo) StatsByBacking(dbc dbctx.Context, tenantID uuid.UUID) ([]BackingStat, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}

	var results []BackingStat
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.CatalogJSON{}).
		Select("backing, COUNT(*) AS doc_count").
		Where("tenant_id = ?", tenantID).
		Group("backing").
		Order("backing ASC").
		Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
