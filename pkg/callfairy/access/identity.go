package access

import (
	"context"
	"fmt"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LoadUser returns the user with the given ID.
func (s *Service) LoadUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// FindUserByEmail returns the user registered with email.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.conn(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// SaveUser persists profile fields. The role column is left alone; use SetRole.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.conn(ctx).Model(user).Select("Name", "Company", "JobTitle", "Phone", "IsActive").Updates(user).Error
}

// HasActiveAgent reports whether the user currently manages an organisation.
func (s *Service) HasActiveAgent(ctx context.Context, userID uint) (bool, error) {
	var count int64
	err := s.conn(ctx).Model(&models.Agent{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	return count > 0, err
}

// SetRole changes a user's role by hand. Only user and superadmin may be set;
// the agent role always follows the user's assignments.
func (s *Service) SetRole(ctx context.Context, userID uint, role models.Role) (*models.User, error) {
	if role != models.RoleUser && role != models.RoleSuperAdmin {
		return nil, fmt.Errorf("role %q cannot be set directly: %w", role, ErrInvalidState)
	}

	var user models.User
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			return notFound(err, "user")
		}
		if err := tx.Model(&user).Update("role", role).Error; err != nil {
			return err
		}
		if _, err := s.syncRole(tx, userID); err != nil {
			return err
		}
		return tx.First(&user, userID).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("audit: role set", zap.Uint("user_id", userID), zap.String("role", string(user.Role)))
	return &user, nil
}

// SetActive activates or deactivates a user account.
func (s *Service) SetActive(ctx context.Context, userID uint, active bool) error {
	res := s.conn(ctx).Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// syncRole recomputes the cached role of userID from its active agent rows.
// A superadmin is never changed. It must run inside the caller's transaction.
func (s *Service) syncRole(tx *gorm.DB, userID uint) (models.Role, error) {
	var user models.User
	if err := tx.Select("id", "role").First(&user, userID).Error; err != nil {
		return "", notFound(err, "user")
	}
	if user.Role == models.RoleSuperAdmin {
		return user.Role, nil
	}

	var active int64
	if err := tx.Model(&models.Agent{}).Where("user_id = ? AND is_active = ?", userID, true).Count(&active).Error; err != nil {
		return "", err
	}

	want := models.RoleUser
	if active > 0 {
		want = models.RoleSuperUser
	}
	if user.Role != want {
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("role", want).Error; err != nil {
			return "", err
		}
		s.log.Info("audit: role synced",
			zap.Uint("user_id", userID),
			zap.String("from", string(user.Role)),
			zap.String("to", string(want)))
	}
	return want, nil
}
