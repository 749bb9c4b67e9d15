package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type QueryLog struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`

	Text        string `gorm:"column:text;type:text;not null" json:"text"`
	Mode        string `gorm:"column:mode;not null" json:"mode"`
	ResultCount int    `gorm:"column:result_count;not null" json:"result_count"`

	// Embedding is only set for semantic and hybrid queries.
	Embedding *pgvector.Vector `gorm:"type:vector(768)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (QueryLog) TableName() string { return "query_log" }
