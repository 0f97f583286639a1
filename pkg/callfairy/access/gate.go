package access

import (
	"context"
	"fmt"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
)

// RequireSuperAdmin allows only superadmins.
func (s *Service) RequireSuperAdmin(user *models.User) error {
	if user == nil || !user.IsSuperAdmin() {
		return denied("superadmin role required")
	}
	return nil
}

// AuthorizeAccess allows users whose accessible set contains the target's organisation.
func (s *Service) AuthorizeAccess(ctx context.Context, user *models.User, target models.OrganisationScoped) error {
	if user.IsSuperAdmin() {
		return nil
	}
	org, err := s.owner(ctx, target)
	if err != nil {
		return err
	}
	ok, err := s.CanAccessOrganisation(ctx, user, org)
	if err != nil {
		return err
	}
	if !ok {
		return denied("no access to this organisation")
	}
	return nil
}

// AuthorizeManage allows superadmins and the active agent of the target's organisation.
func (s *Service) AuthorizeManage(ctx context.Context, user *models.User, target models.OrganisationScoped) error {
	if user.IsSuperAdmin() {
		return nil
	}
	org, err := s.owner(ctx, target)
	if err != nil {
		return err
	}
	ok, err := s.CanManageOrganisation(ctx, user, org)
	if err != nil {
		return err
	}
	if !ok {
		return denied("only the organisation's agent may manage it")
	}
	return nil
}

// AuthorizePermission checks key within the target's organisation. An empty
// key only requires access to the organisation.
func (s *Service) AuthorizePermission(ctx context.Context, user *models.User, target models.OrganisationScoped, key string) error {
	if user.IsSuperAdmin() {
		return nil
	}
	if key == "" {
		return s.AuthorizeAccess(ctx, user, target)
	}
	var org *models.Organisation
	if target != nil {
		var err error
		if org, err = s.owner(ctx, target); err != nil {
			return err
		}
	}
	ok, err := s.CheckPermission(ctx, user, key, org)
	if err != nil {
		return err
	}
	if !ok {
		return denied(fmt.Sprintf("permission %q required", key))
	}
	return nil
}

func (s *Service) owner(ctx context.Context, target models.OrganisationScoped) (*models.Organisation, error) {
	if target == nil {
		return nil, fmt.Errorf("no organisation context: %w", ErrInvalidState)
	}
	return s.GetOrganisation(ctx, target.OwningOrganisationID())
}
