package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ArtifactStatusActive   = "active"
	ArtifactStatusOrphaned = "orphaned"
)

// ThumbDescriptor records one generated derivative of a stored file.
type ThumbDescriptor struct {
	Size   string `json:"size"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// CatalogFile rows are hard-deleted: tenant delete removes the bytes on
// disk, the derivatives and the chunks, so a tombstone would only break
// the per-tenant sha256 dedup index.
type CatalogFile struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_catalog_file_tenant_created,priority:1;uniqueIndex:idx_catalog_file_tenant_sha256,priority:1" json:"tenant_id"`
	Tenant   *Tenant   `gorm:"constraint:OnDelete:CASCADE;foreignKey:TenantID;references:ID" json:"tenant,omitempty"`

	OriginalName  string `gorm:"column:original_name;not null" json:"original_name"`
	Category      string `gorm:"column:category;not null;index" json:"category"`
	MimeType      string `gorm:"column:mime_type" json:"mime_type"`
	SizeBytes     int64  `gorm:"column:size_bytes;not null" json:"size_bytes"`
	SHA256        string `gorm:"column:sha256;not null;uniqueIndex:idx_catalog_file_tenant_sha256,priority:2" json:"sha256"`
	CanonicalPath string `gorm:"column:canonical_path;not null" json:"canonical_path"`
	Indexed       bool   `gorm:"column:indexed;not null;default:false" json:"indexed"`
	Status        string `gorm:"column:status;not null;default:'active'" json:"status"`

	Thumbs   datatypes.JSON `gorm:"type:jsonb;column:thumbs" json:"thumbs"`
	Metadata datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;default:now();index:idx_catalog_file_tenant_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CatalogFile) TableName() string { return "catalog_file" }
