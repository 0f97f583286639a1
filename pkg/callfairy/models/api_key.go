package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey authenticates scripted access on behalf of a user
type APIKey struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	KeyHash     string         `gorm:"not null;uniqueIndex" json:"-"`
	KeyPrefix   string         `gorm:"not null" json:"key_prefix"`
	Description string         `json:"description"`
	LastUsedAt  *time.Time     `json:"last_used_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}
