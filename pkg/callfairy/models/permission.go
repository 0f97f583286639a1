package models

import (
	"time"
)

// Permission is a catalog entry identified by its stable key.
type Permission struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Name        string    `gorm:"not null" json:"name"`
	Key         string    `gorm:"uniqueIndex;not null;size:100" json:"key"`
	Description string    `json:"description"`
}

// UserPermissionAccess grants a permission to a user independent of any organisation.
type UserPermissionAccess struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_user_permission" json:"user_id"`
	PermissionID uint      `gorm:"not null;uniqueIndex:idx_user_permission;index" json:"permission_id"`
	GrantedAt    time.Time `gorm:"autoCreateTime" json:"granted_at"`
	GrantedByID  *uint     `json:"granted_by_id"`

	// Relationships
	User       User       `gorm:"foreignKey:UserID" json:"-"`
	Permission Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}

// TableName keeps the grant table name short.
func (UserPermissionAccess) TableName() string {
	return "user_permissions"
}
