package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	BackingRelational = "relational"
	BackingDocument   = "document"
)

// CatalogJSON uses the synthesized document id ("doc_<ts>_<sha12>") as its
// primary key so the payload stores and the catalog share one identifier.
type CatalogJSON struct {
	ID       string    `gorm:"primaryKey;column:id" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_catalog_json_tenant_created,priority:1" json:"tenant_id"`
	Tenant   *Tenant   `gorm:"constraint:OnDelete:CASCADE;foreignKey:TenantID;references:ID" json:"tenant,omitempty"`

	Backing    string  `gorm:"column:backing;not null" json:"backing"`
	Confidence float64 `gorm:"column:confidence;not null" json:"confidence"`
	SizeBytes  int64   `gorm:"column:size_bytes;not null" json:"size_bytes"`
	Status     string  `gorm:"column:status;not null;default:'active'" json:"status"`

	Metrics datatypes.JSON `gorm:"type:jsonb;column:metrics" json:"metrics"`
	Tags    datatypes.JSON `gorm:"type:jsonb;column:tags" json:"tags"`

	CreatedAt time.Time `gorm:"not null;default:now();index:idx_catalog_json_tenant_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CatalogJSON) TableName() string { return "catalog_json" }
