package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermissionRef names a catalog permission either by entity or by key.
type PermissionRef struct {
	id  uint
	key string
}

// ByKey refers to the permission with the given catalog key.
func ByKey(key string) PermissionRef {
	return PermissionRef{key: key}
}

// ByPermission refers to an already loaded catalog entry.
func ByPermission(p models.Permission) PermissionRef {
	return PermissionRef{id: p.ID, key: p.Key}
}

func (r PermissionRef) String() string {
	if r.key != "" {
		return r.key
	}
	return fmt.Sprintf("#%d", r.id)
}

// resolve loads the referenced permission. An unknown key is both not found
// and an invalid grant target.
func (r PermissionRef) resolve(db *gorm.DB) (*models.Permission, error) {
	var perm models.Permission
	var err error
	switch {
	case r.id != 0:
		err = db.First(&perm, r.id).Error
	case r.key != "":
		err = db.Where("key = ?", r.key).First(&perm).Error
	default:
		return nil, fmt.Errorf("empty permission reference: %w", ErrInvalidState)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("permission %s: %w: %w", r, ErrNotFound, ErrInvalidState)
		}
		return nil, err
	}
	return &perm, nil
}

// GrantPermission grants a permission to an agent. Granting the same
// permission twice leaves a single grant.
func (s *Service) GrantPermission(ctx context.Context, agentID uint, ref PermissionRef, grantedBy uint) (*models.AgentPermission, error) {
	var grant models.AgentPermission
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			return notFound(err, "agent")
		}
		perm, err := ref.resolve(tx)
		if err != nil {
			return err
		}
		return upsertAgentGrant(tx, agent.ID, perm.ID, grantedBy, &grant)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("audit: agent permission granted",
		zap.Uint("agent_id", agentID), zap.String("permission", grant.Permission.Key), zap.Uint("granted_by", grantedBy))
	return &grant, nil
}

func upsertAgentGrant(tx *gorm.DB, agentID, permissionID, grantedBy uint, out *models.AgentPermission) error {
	row := models.AgentPermission{AgentID: agentID, PermissionID: permissionID, GrantedByID: optionalID(grantedBy)}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	return tx.Preload("Permission").
		Where("agent_id = ? AND permission_id = ?", agentID, permissionID).
		First(out).Error
}

// RevokePermission removes a permission from an agent. Revoking a permission
// the agent does not hold is a no-op.
func (s *Service) RevokePermission(ctx context.Context, agentID uint, ref PermissionRef) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			return notFound(err, "agent")
		}
		perm, err := ref.resolve(tx)
		if err != nil {
			return err
		}
		res := tx.Where("agent_id = ? AND permission_id = ?", agent.ID, perm.ID).Delete(&models.AgentPermission{})
		if res.Error == nil && res.RowsAffected > 0 {
			s.log.Info("audit: agent permission revoked", zap.Uint("agent_id", agentID), zap.String("permission", perm.Key))
		}
		return res.Error
	})
}

// AgentPermissions lists the permissions granted to an agent row.
func (s *Service) AgentPermissions(ctx context.Context, agentID uint) ([]models.Permission, error) {
	var perms []models.Permission
	err := s.conn(ctx).
		Joins("JOIN agent_permissions ON agent_permissions.permission_id = permissions.id").
		Where("agent_permissions.agent_id = ?", agentID).
		Order("permissions.key").
		Find(&perms).Error
	return perms, err
}

// ApplyPermissionPackage grants every key of the named package that exists in
// the catalog and returns what was granted.
func (s *Service) ApplyPermissionPackage(ctx context.Context, agentID uint, pkg string, grantedBy uint) ([]models.Permission, error) {
	keys, ok := PermissionPackages[pkg]
	if !ok {
		return nil, fmt.Errorf("permission package %q: %w", pkg, ErrInvalidState)
	}

	var granted []models.Permission
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.Agent
		if err := tx.First(&agent, agentID).Error; err != nil {
			return notFound(err, "agent")
		}
		var err error
		granted, err = grantPackage(tx, agent.ID, keys, grantedBy)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("audit: permission package applied",
		zap.Uint("agent_id", agentID), zap.String("package", pkg), zap.Int("granted", len(granted)))
	return granted, nil
}

// grantPackage grants every catalog permission among keys to the agent.
func grantPackage(tx *gorm.DB, agentID uint, keys []string, grantedBy uint) ([]models.Permission, error) {
	var perms []models.Permission
	if err := tx.Where("key IN ?", keys).Order("key").Find(&perms).Error; err != nil {
		return nil, err
	}
	for _, perm := range perms {
		var grant models.AgentPermission
		if err := upsertAgentGrant(tx, agentID, perm.ID, grantedBy, &grant); err != nil {
			return nil, err
		}
	}
	return perms, nil
}

// GrantUserPermission grants a permission to a user directly, outside any organisation.
func (s *Service) GrantUserPermission(ctx context.Context, userID uint, ref PermissionRef, grantedBy uint) (*models.UserPermissionAccess, error) {
	var grant models.UserPermissionAccess
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return notFound(err, "user")
		}
		perm, err := ref.resolve(tx)
		if err != nil {
			return err
		}
		row := models.UserPermissionAccess{UserID: user.ID, PermissionID: perm.ID, GrantedByID: optionalID(grantedBy)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Preload("Permission").
			Where("user_id = ? AND permission_id = ?", user.ID, perm.ID).
			First(&grant).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("audit: user permission granted",
		zap.Uint("user_id", userID), zap.String("permission", grant.Permission.Key), zap.Uint("granted_by", grantedBy))
	return &grant, nil
}

// RevokeUserPermission removes a direct grant. Missing grants are ignored.
func (s *Service) RevokeUserPermission(ctx context.Context, userID uint, ref PermissionRef) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.User{}, userID).Error; err != nil {
			return notFound(err, "user")
		}
		perm, err := ref.resolve(tx)
		if err != nil {
			return err
		}
		return tx.Where("user_id = ? AND permission_id = ?", userID, perm.ID).Delete(&models.UserPermissionAccess{}).Error
	})
}
