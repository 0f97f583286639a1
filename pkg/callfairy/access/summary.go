package access

import (
	"context"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
)

// OrganisationRef is the short form of an organisation used in summaries.
type OrganisationRef struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// PermissionSummary is a read-only view of everything that decides what a
// user may do.
type PermissionSummary struct {
	UserID                  uint              `json:"user_id"`
	Email                   string            `json:"email"`
	Role                    models.Role       `json:"role"`
	RoleDisplay             string            `json:"role_display"`
	IsSuperAdmin            bool              `json:"is_superadmin"`
	IsAgent                 bool              `json:"is_agent"`
	ManagedOrganisation     *OrganisationRef  `json:"managed_organisation"`
	DirectPermissions       []string          `json:"direct_permissions"`
	AgentPermissions        []string          `json:"agent_permissions"`
	AllPermissions          []string          `json:"all_permissions"`
	AccessibleOrganisations []OrganisationRef `json:"accessible_organisations"`
}

func refOf(org models.Organisation) OrganisationRef {
	return OrganisationRef{ID: org.ID, Name: org.Name, IsActive: org.IsActive}
}

// Summary builds the permission summary of user.
func (s *Service) Summary(ctx context.Context, user *models.User) (*PermissionSummary, error) {
	sum := &PermissionSummary{
		UserID:       user.ID,
		Email:        user.Email,
		Role:         user.Role,
		RoleDisplay:  user.Role.DisplayName(),
		IsSuperAdmin: user.IsSuperAdmin(),
	}

	managed, err := s.ManagedOrganisation(ctx, user)
	if err != nil {
		return nil, err
	}
	if managed != nil {
		ref := refOf(*managed)
		sum.IsAgent = true
		sum.ManagedOrganisation = &ref
	}

	direct, err := s.DirectPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	viaAgent := []models.Permission{}
	if sum.IsAgent {
		if viaAgent, err = s.ActiveAgentPermissions(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	sum.DirectPermissions = PermissionKeys(direct)
	sum.AgentPermissions = PermissionKeys(viaAgent)
	sum.AllPermissions = PermissionKeys(unionByKey(direct, viaAgent))

	orgs, err := s.AccessibleOrganisations(ctx, user)
	if err != nil {
		return nil, err
	}
	sum.AccessibleOrganisations = make([]OrganisationRef, len(orgs))
	for i, o := range orgs {
		sum.AccessibleOrganisations[i] = refOf(o)
	}
	return sum, nil
}
