package models

import (
	"time"
)

// OrganisationScoped is implemented by every object whose access is decided by
// the organisation that owns it. The set of implementations is closed.
type OrganisationScoped interface {
	OwningOrganisationID() uint
	organisationScoped()
}

// Organisation is a tenant. Each has at most one active agent.
type Organisation struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `gorm:"not null;index" json:"name"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Country     string    `json:"country"`
	Pincode     string    `gorm:"size:10" json:"pincode"`
	IsActive    bool      `gorm:"index" json:"is_active"`

	// Relationships
	Members []UserOrganisation `gorm:"foreignKey:OrganisationID" json:"members,omitempty"`
	Agents  []Agent            `gorm:"foreignKey:OrganisationID" json:"agents,omitempty"`
}

// OwningOrganisationID implements OrganisationScoped.
func (o Organisation) OwningOrganisationID() uint { return o.ID }
func (Organisation) organisationScoped()          {}

// UserOrganisation records that a user belongs to an organisation.
// Membership grants access, never management.
type UserOrganisation struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_user_organisation" json:"user_id"`
	OrganisationID uint      `gorm:"not null;uniqueIndex:idx_user_organisation;index" json:"organisation_id"`

	// Relationships
	User         User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Organisation Organisation `gorm:"foreignKey:OrganisationID" json:"organisation,omitempty"`
}

// OwningOrganisationID implements OrganisationScoped.
func (m UserOrganisation) OwningOrganisationID() uint { return m.OrganisationID }
func (UserOrganisation) organisationScoped()          {}
