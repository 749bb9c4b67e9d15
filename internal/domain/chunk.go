package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// EmbeddingDim is the fixed width of every stored vector. The embedding
// client refuses to boot against a provider that produces anything else.
const EmbeddingDim = 768

type Chunk struct {
	ID           uuid.UUID    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	SourceFileID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_source_ordinal,priority:1" json:"source_file_id"`
	SourceFile   *CatalogFile `gorm:"constraint:OnDelete:CASCADE;foreignKey:SourceFileID;references:ID" json:"source_file,omitempty"`

	Ordinal  int    `gorm:"column:ordinal;not null;uniqueIndex:idx_chunk_source_ordinal,priority:2" json:"ordinal"`
	Text     string `gorm:"column:text;type:text;not null" json:"text"`
	Category string `gorm:"column:category;index" json:"category"`

	Embedding pgvector.Vector `gorm:"type:vector(768)" json:"-"`
	Metadata  datatypes.JSON  `gorm:"type:jsonb;column:metadata" json:"metadata"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Chunk) TableName() string { return "chunk" }
