package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Tenant struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name       string    `gorm:"uniqueIndex;not null;column:name" json:"name"`
	APIKeyHash string    `gorm:"not null;column:api_key_hash" json:"-"`
	Active     bool      `gorm:"not null;default:true;column:active" json:"active"`
	QuotaBytes int64     `gorm:"not null;column:quota_bytes" json:"quota_bytes"`
	UsedBytes  int64     `gorm:"not null;default:0;column:used_bytes" json:"used_bytes"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Tenant) TableName() string { return "tenant" }
