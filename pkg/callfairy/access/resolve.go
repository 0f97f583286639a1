package access

import (
	"context"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
)

// ManagedOrganisation returns the organisation the user actively manages, or
// nil. Superadmins never manage through an agent row.
func (s *Service) ManagedOrganisation(ctx context.Context, user *models.User) (*models.Organisation, error) {
	if user.IsSuperAdmin() {
		return nil, nil
	}
	agent, err := activeAgentForUser(s.conn(ctx), user.ID)
	if err != nil || agent == nil {
		return nil, err
	}
	var org models.Organisation
	if err := s.conn(ctx).First(&org, agent.OrganisationID).Error; err != nil {
		return nil, notFound(err, "organisation")
	}
	return &org, nil
}

// IsAgentOf reports whether the user is the active agent of org.
func (s *Service) IsAgentOf(ctx context.Context, user *models.User, org *models.Organisation) (bool, error) {
	if user.IsSuperAdmin() {
		return false, nil
	}
	agent, err := activeAgentForUser(s.conn(ctx), user.ID)
	if err != nil || agent == nil {
		return false, err
	}
	return agent.OrganisationID == org.ID, nil
}

// OrganisationAgent returns the user actively managing org, or nil.
func (s *Service) OrganisationAgent(ctx context.Context, org *models.Organisation) (*models.User, error) {
	agent, err := activeAgentForOrganisation(s.conn(ctx), org.ID)
	if err != nil || agent == nil {
		return nil, err
	}
	return s.LoadUser(ctx, agent.UserID)
}

// AccessibleOrganisations returns the active organisations the user may see:
// all of them for a superadmin, only the managed one for an agent, otherwise
// those the user is a member of.
func (s *Service) AccessibleOrganisations(ctx context.Context, user *models.User) ([]models.Organisation, error) {
	if user.IsSuperAdmin() {
		return s.ListOrganisations(ctx, true)
	}

	managed, err := s.ManagedOrganisation(ctx, user)
	if err != nil {
		return nil, err
	}
	if managed != nil {
		if !managed.IsActive {
			return []models.Organisation{}, nil
		}
		return []models.Organisation{*managed}, nil
	}

	var orgs []models.Organisation
	err = s.conn(ctx).
		Joins("JOIN user_organisations ON user_organisations.organisation_id = organisations.id").
		Where("user_organisations.user_id = ? AND organisations.is_active = ?", user.ID, true).
		Order("organisations.name").
		Find(&orgs).Error
	return orgs, err
}

// CanAccessOrganisation reports whether org is in the user's accessible set.
func (s *Service) CanAccessOrganisation(ctx context.Context, user *models.User, org *models.Organisation) (bool, error) {
	orgs, err := s.AccessibleOrganisations(ctx, user)
	if err != nil {
		return false, err
	}
	for _, o := range orgs {
		if o.ID == org.ID {
			return true, nil
		}
	}
	return false, nil
}

// CanManageOrganisation reports whether the user is a superadmin or the active agent of org.
func (s *Service) CanManageOrganisation(ctx context.Context, user *models.User, org *models.Organisation) (bool, error) {
	if user.IsSuperAdmin() {
		return true, nil
	}
	return s.IsAgentOf(ctx, user, org)
}

// CheckPermission reports whether the user holds key. With org nil only the
// user's direct grants count. With org set, an agent holds key only inside the
// organisation they manage, through either grant path; other users fall back
// to their direct grants.
func (s *Service) CheckPermission(ctx context.Context, user *models.User, key string, org *models.Organisation) (bool, error) {
	if user.IsSuperAdmin() {
		return true, nil
	}

	if org != nil {
		agent, err := activeAgentForUser(s.conn(ctx), user.ID)
		if err != nil {
			return false, err
		}
		if agent != nil {
			if agent.OrganisationID != org.ID {
				return false, nil
			}
			perms, err := s.AllPermissions(ctx, user)
			if err != nil {
				return false, err
			}
			return containsKey(perms, key), nil
		}
	}

	direct, err := s.DirectPermissions(ctx, user.ID)
	if err != nil {
		return false, err
	}
	return containsKey(direct, key), nil
}

// PermissionsForOrganisation returns the effective permission set of the user
// inside org.
func (s *Service) PermissionsForOrganisation(ctx context.Context, user *models.User, org *models.Organisation) ([]models.Permission, error) {
	if user.IsSuperAdmin() {
		return s.ListPermissions(ctx)
	}
	agent, err := activeAgentForUser(s.conn(ctx), user.ID)
	if err != nil {
		return nil, err
	}
	if agent != nil {
		if agent.OrganisationID != org.ID {
			return []models.Permission{}, nil
		}
		return s.AgentPermissions(ctx, agent.ID)
	}
	return s.DirectPermissions(ctx, user.ID)
}

// DirectPermissions lists the permissions granted to the user outside any organisation.
func (s *Service) DirectPermissions(ctx context.Context, userID uint) ([]models.Permission, error) {
	var perms []models.Permission
	err := s.conn(ctx).
		Joins("JOIN user_permissions ON user_permissions.permission_id = permissions.id").
		Where("user_permissions.user_id = ?", userID).
		Order("permissions.key").
		Find(&perms).Error
	return perms, err
}

// ActiveAgentPermissions lists the grants of the user's active agent row.
func (s *Service) ActiveAgentPermissions(ctx context.Context, userID uint) ([]models.Permission, error) {
	agent, err := activeAgentForUser(s.conn(ctx), userID)
	if err != nil || agent == nil {
		return []models.Permission{}, err
	}
	return s.AgentPermissions(ctx, agent.ID)
}

// AllPermissions returns the union of direct and active agent grants, unique by key.
func (s *Service) AllPermissions(ctx context.Context, user *models.User) ([]models.Permission, error) {
	direct, err := s.DirectPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	viaAgent, err := s.ActiveAgentPermissions(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return unionByKey(direct, viaAgent), nil
}

func unionByKey(sets ...[]models.Permission) []models.Permission {
	seen := map[string]struct{}{}
	out := []models.Permission{}
	for _, set := range sets {
		for _, p := range set {
			if _, ok := seen[p.Key]; ok {
				continue
			}
			seen[p.Key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func containsKey(perms []models.Permission, key string) bool {
	for _, p := range perms {
		if p.Key == key {
			return true
		}
	}
	return false
}

// PermissionKeys flattens perms to their keys.
func PermissionKeys(perms []models.Permission) []string {
	keys := make([]string, len(perms))
	for i, p := range perms {
		keys[i] = p.Key
	}
	return keys
}

