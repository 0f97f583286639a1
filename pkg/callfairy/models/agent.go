package models

import (
	"time"
)

// Agent assigns a user as the manager of exactly one organisation.
//
// Two partial unique indexes keep at most one active row per organisation and
// per user. Inactive rows are history and are never reactivated.
type Agent struct {
	ID             uint       `gorm:"primarykey" json:"id"`
	UserID         uint       `gorm:"not null;index;uniqueIndex:idx_agents_active_user,where:is_active = true" json:"user_id"`
	OrganisationID uint       `gorm:"not null;index;uniqueIndex:idx_agents_active_org,where:is_active = true" json:"organisation_id"`
	AssignedAt     time.Time  `gorm:"not null" json:"assigned_at"`
	AssignedByID   *uint      `json:"assigned_by_id"`
	IsActive       bool       `gorm:"index" json:"is_active"`
	RevokedAt      *time.Time `json:"revoked_at"`
	RevokedByID    *uint      `json:"revoked_by_id"`

	// Relationships
	User         User              `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Organisation Organisation      `gorm:"foreignKey:OrganisationID" json:"organisation,omitempty"`
	Permissions  []AgentPermission `gorm:"foreignKey:AgentID" json:"permissions,omitempty"`
}

// OwningOrganisationID implements OrganisationScoped.
func (a Agent) OwningOrganisationID() uint { return a.OrganisationID }
func (Agent) organisationScoped()          {}

// AgentPermission grants a catalog permission to an agent assignment.
type AgentPermission struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	AgentID      uint      `gorm:"not null;uniqueIndex:idx_agent_permission" json:"agent_id"`
	PermissionID uint      `gorm:"not null;uniqueIndex:idx_agent_permission;index" json:"permission_id"`
	GrantedAt    time.Time `gorm:"autoCreateTime" json:"granted_at"`
	GrantedByID  *uint     `json:"granted_by_id"`

	// Relationships
	Agent      Agent      `gorm:"foreignKey:AgentID" json:"-"`
	Permission Permission `gorm:"foreignKey:PermissionID" json:"permission,omitempty"`
}
