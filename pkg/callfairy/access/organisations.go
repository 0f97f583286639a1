package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrganisationInput carries the editable organisation fields. Nil fields are
// left unchanged by UpdateOrganisation.
type OrganisationInput struct {
	Name        *string
	Description *string
	Address     *string
	City        *string
	State       *string
	Country     *string
	Pincode     *string
	IsActive    *bool
}

func (in OrganisationInput) changes() map[string]interface{} {
	set := map[string]interface{}{}
	put := func(col string, v *string) {
		if v != nil {
			set[col] = strings.TrimSpace(*v)
		}
	}
	put("name", in.Name)
	put("description", in.Description)
	put("address", in.Address)
	put("city", in.City)
	put("state", in.State)
	put("country", in.Country)
	put("pincode", in.Pincode)
	if in.IsActive != nil {
		set["is_active"] = *in.IsActive
	}
	return set
}

func str(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

// CreateOrganisation registers a new, active organisation.
func (s *Service) CreateOrganisation(ctx context.Context, in OrganisationInput) (*models.Organisation, error) {
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		return nil, fmt.Errorf("organisation name is required: %w", ErrInvalidState)
	}
	org := models.Organisation{
		Name:        str(in.Name),
		Description: str(in.Description),
		Address:     str(in.Address),
		City:        str(in.City),
		State:       str(in.State),
		Country:     str(in.Country),
		Pincode:     str(in.Pincode),
		IsActive:    true,
	}
	if in.IsActive != nil {
		org.IsActive = *in.IsActive
	}
	if err := s.conn(ctx).Create(&org).Error; err != nil {
		return nil, err
	}
	s.log.Info("organisation created", zap.Uint("organisation_id", org.ID), zap.String("name", org.Name))
	return &org, nil
}

// GetOrganisation returns an organisation whether or not it is active.
func (s *Service) GetOrganisation(ctx context.Context, id uint) (*models.Organisation, error) {
	var org models.Organisation
	if err := s.conn(ctx).First(&org, id).Error; err != nil {
		return nil, notFound(err, "organisation")
	}
	return &org, nil
}

// ListOrganisations returns every organisation ordered by name.
func (s *Service) ListOrganisations(ctx context.Context, activeOnly bool) ([]models.Organisation, error) {
	q := s.conn(ctx).Order("name")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var orgs []models.Organisation
	return orgs, q.Find(&orgs).Error
}

// UpdateOrganisation applies the non-nil fields of in.
func (s *Service) UpdateOrganisation(ctx context.Context, id uint, in OrganisationInput) (*models.Organisation, error) {
	set := in.changes()
	if name, ok := set["name"]; ok && name == "" {
		return nil, fmt.Errorf("organisation name cannot be blank: %w", ErrInvalidState)
	}
	var org models.Organisation
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&org, id).Error; err != nil {
			return notFound(err, "organisation")
		}
		if len(set) == 0 {
			return nil
		}
		if err := tx.Model(&org).Updates(set).Error; err != nil {
			return err
		}
		return tx.First(&org, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// SetOrganisationActive flips the active flag. Inactive organisations drop out
// of accessible sets but keep their agent.
func (s *Service) SetOrganisationActive(ctx context.Context, id uint, active bool) (*models.Organisation, error) {
	return s.UpdateOrganisation(ctx, id, OrganisationInput{IsActive: &active})
}

// DeleteOrganisation removes an organisation, its memberships and agent
// history, re-syncing the role of every user who managed it.
func (s *Service) DeleteOrganisation(ctx context.Context, id uint) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organisation
		if err := tx.First(&org, id).Error; err != nil {
			return notFound(err, "organisation")
		}

		var agents []models.Agent
		if err := tx.Where("organisation_id = ?", id).Find(&agents).Error; err != nil {
			return err
		}
		users := map[uint]struct{}{}
		ids := make([]uint, 0, len(agents))
		for _, a := range agents {
			ids = append(ids, a.ID)
			users[a.UserID] = struct{}{}
		}
		if len(ids) > 0 {
			if err := tx.Where("agent_id IN ?", ids).Delete(&models.AgentPermission{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", ids).Delete(&models.Agent{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("organisation_id = ?", id).Delete(&models.UserOrganisation{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&org).Error; err != nil {
			return err
		}
		for userID := range users {
			if _, err := s.syncRole(tx, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("audit: organisation deleted", zap.Uint("organisation_id", id))
	return nil
}

// AddMember records that userID belongs to orgID. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, orgID, userID uint) (*models.UserOrganisation, error) {
	var membership models.UserOrganisation
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Organisation{}, orgID).Error; err != nil {
			return notFound(err, "organisation")
		}
		if err := tx.Select("id").First(&models.User{}, userID).Error; err != nil {
			return notFound(err, "user")
		}
		return tx.Where(models.UserOrganisation{UserID: userID, OrganisationID: orgID}).
			FirstOrCreate(&membership).Error
	})
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

// GetMembership returns the membership of userID in orgID.
func (s *Service) GetMembership(ctx context.Context, orgID, userID uint) (*models.UserOrganisation, error) {
	var membership models.UserOrganisation
	err := s.conn(ctx).Where("organisation_id = ? AND user_id = ?", orgID, userID).First(&membership).Error
	if err != nil {
		return nil, notFound(err, "membership")
	}
	return &membership, nil
}

// RemoveMember deletes a membership.
func (s *Service) RemoveMember(ctx context.Context, membership *models.UserOrganisation) error {
	res := s.conn(ctx).Delete(&models.UserOrganisation{}, membership.ID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("membership: %w", ErrNotFound)
	}
	return nil
}

// ListMembers returns the users belonging to orgID.
func (s *Service) ListMembers(ctx context.Context, orgID uint) ([]models.User, error) {
	var users []models.User
	err := s.conn(ctx).
		Joins("JOIN user_organisations ON user_organisations.user_id = users.id").
		Where("user_organisations.organisation_id = ?", orgID).
		Order("users.name").
		Find(&users).Error
	return users, err
}
