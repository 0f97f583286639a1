package models

import (
	"time"
)

// Role is a user's platform-wide role.
//
// RoleSuperUser is never assigned by hand: it mirrors whether the user holds an
// active agent assignment and is recomputed whenever that changes.
type Role string

const (
	RoleUser       Role = "user"
	RoleSuperUser  Role = "superuser"
	RoleSuperAdmin Role = "superadmin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSuperUser, RoleSuperAdmin:
		return true
	}
	return false
}

// DisplayName returns the label shown in the UI.
func (r Role) DisplayName() string {
	switch r {
	case RoleSuperAdmin:
		return "Super Admin"
	case RoleSuperUser:
		return "Agent"
	default:
		return "User"
	}
}

// User represents a person who can sign in
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"date_joined"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `json:"-"` // empty for Google-only accounts
	Name         string    `gorm:"not null" json:"name"`
	Company      string    `json:"company,omitempty"`
	JobTitle     string    `json:"job_title,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	IsActive     bool      `json:"is_active"`
	Role         Role      `gorm:"type:varchar(20);not null;index" json:"role"`

	// Relationships
	Memberships []UserOrganisation `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
	APIKeys     []APIKey           `gorm:"foreignKey:UserID" json:"api_keys,omitempty"`
}

// IsSuperAdmin reports whether the user bypasses every organisation check.
func (u *User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// IsElevated reports whether the cached role marks the user as an agent.
func (u *User) IsElevated() bool {
	return u.Role == RoleSuperUser
}
