package access

import (
	"context"
	"fmt"
	"time"

	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssignAgent makes userID the single active agent of orgID.
//
// Any agent currently managing orgID is deactivated and its user's role is
// re-synced; any other active assignment held by userID is deactivated too.
// The whole sequence commits or rolls back as one unit. assignedBy may be 0
// for system-initiated assignments.
func (s *Service) AssignAgent(ctx context.Context, userID, orgID, assignedBy uint) (*models.Agent, error) {
	agent, _, err := s.assign(ctx, userID, orgID, assignedBy, "")
	return agent, err
}

// AssignAgentWithPackage is AssignAgent followed by the grants of the named
// permission package, committed in the same transaction. It returns the
// permissions granted.
func (s *Service) AssignAgentWithPackage(ctx context.Context, userID, orgID, assignedBy uint, pkg string) (*models.Agent, []models.Permission, error) {
	if _, ok := PermissionPackages[pkg]; !ok {
		return nil, nil, fmt.Errorf("permission package %q: %w", pkg, ErrInvalidState)
	}
	return s.assign(ctx, userID, orgID, assignedBy, pkg)
}

func (s *Service) assign(ctx context.Context, userID, orgID, assignedBy uint, pkg string) (*models.Agent, []models.Permission, error) {
	var (
		agent   models.Agent
		granted []models.Permission
	)
	err := s.assignmentTx(ctx, func(tx *gorm.DB) error {
		granted = nil
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			return notFound(err, "user")
		}
		var org models.Organisation
		if err := tx.First(&org, orgID).Error; err != nil {
			return notFound(err, "organisation")
		}

		now := s.now()

		current, err := activeAgentForOrganisation(tx, orgID)
		if err != nil {
			return err
		}
		if current != nil {
			if err := deactivate(tx, current, assignedBy, now); err != nil {
				return err
			}
			if current.UserID != userID {
				if _, err := s.syncRole(tx, current.UserID); err != nil {
					return err
				}
			}
		}

		own, err := activeAgentForUser(tx, userID)
		if err != nil {
			return err
		}
		if own != nil {
			if err := deactivate(tx, own, assignedBy, now); err != nil {
				return err
			}
		}

		agent = models.Agent{
			UserID:         userID,
			OrganisationID: orgID,
			AssignedAt:     now,
			AssignedByID:   optionalID(assignedBy),
			IsActive:       true,
		}
		if err := tx.Create(&agent).Error; err != nil {
			return err
		}

		if user.Role != models.RoleSuperAdmin {
			if err := tx.Model(&user).Update("role", models.RoleSuperUser).Error; err != nil {
				return err
			}
		}

		if pkg == "" {
			return nil
		}
		granted, err = grantPackage(tx, agent.ID, PermissionPackages[pkg], assignedBy)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	fields := []zap.Field{
		zap.Uint("agent_id", agent.ID),
		zap.Uint("user_id", userID),
		zap.Uint("organisation_id", orgID),
		zap.Uint("assigned_by", assignedBy),
	}
	if pkg != "" {
		fields = append(fields, zap.String("package", pkg), zap.Int("granted", len(granted)))
	}
	s.log.Info("audit: agent assigned", fields...)
	return &agent, granted, nil
}

// RevokeAgent deactivates the agent and re-syncs its user's role. Revoking an
// already inactive agent succeeds and restamps the revocation fields.
func (s *Service) RevokeAgent(ctx context.Context, agentID, revokedBy uint) (*models.Agent, error) {
	var agent models.Agent
	err := s.assignmentTx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&agent, agentID).Error; err != nil {
			return notFound(err, "agent")
		}
		if err := deactivate(tx, &agent, revokedBy, s.now()); err != nil {
			return err
		}
		_, err := s.syncRole(tx, agent.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("audit: agent revoked",
		zap.Uint("agent_id", agent.ID),
		zap.Uint("user_id", agent.UserID),
		zap.Uint("organisation_id", agent.OrganisationID),
		zap.Uint("revoked_by", revokedBy))
	return &agent, nil
}

// DeleteAgent removes an agent row and its grants, then re-syncs the user's role.
func (s *Service) DeleteAgent(ctx context.Context, agentID uint) error {
	var agent models.Agent
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&agent, agentID).Error; err != nil {
			return notFound(err, "agent")
		}
		if err := tx.Where("agent_id = ?", agent.ID).Delete(&models.AgentPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&agent).Error; err != nil {
			return err
		}
		_, err := s.syncRole(tx, agent.UserID)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Info("audit: agent deleted", zap.Uint("agent_id", agentID), zap.Uint("user_id", agent.UserID))
	return nil
}

// GetAgent returns an agent, active or not, with its user and organisation.
func (s *Service) GetAgent(ctx context.Context, agentID uint) (*models.Agent, error) {
	var agent models.Agent
	err := s.conn(ctx).Preload("User").Preload("Organisation").First(&agent, agentID).Error
	if err != nil {
		return nil, notFound(err, "agent")
	}
	return &agent, nil
}

// GetActiveAgent is GetAgent restricted to active assignments.
func (s *Service) GetActiveAgent(ctx context.Context, agentID uint) (*models.Agent, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return nil, fmt.Errorf("agent %d is inactive: %w", agentID, ErrNotFound)
	}
	return agent, nil
}

// ListAgents returns agent rows, newest first. With activeOnly set, history rows are skipped.
func (s *Service) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	q := s.conn(ctx).Preload("User").Preload("Organisation").Order("assigned_at DESC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var agents []models.Agent
	return agents, q.Find(&agents).Error
}

// GetAgentForOrganisation returns the active agent of orgID.
func (s *Service) GetAgentForOrganisation(ctx context.Context, orgID uint) (*models.Agent, error) {
	agent, err := activeAgentForOrganisation(s.conn(ctx), orgID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("no active agent for organisation %d: %w", orgID, ErrNotFound)
	}
	return agent, nil
}

// GetAgentForUser returns the active assignment held by userID.
func (s *Service) GetAgentForUser(ctx context.Context, userID uint) (*models.Agent, error) {
	agent, err := activeAgentForUser(s.conn(ctx), userID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("user %d is not an active agent: %w", userID, ErrNotFound)
	}
	return agent, nil
}

func activeAgentForOrganisation(db *gorm.DB, orgID uint) (*models.Agent, error) {
	var agents []models.Agent
	if err := db.Where("organisation_id = ? AND is_active = ?", orgID, true).Limit(1).Find(&agents).Error; err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}
	return &agents[0], nil
}

func activeAgentForUser(db *gorm.DB, userID uint) (*models.Agent, error) {
	var agents []models.Agent
	if err := db.Where("user_id = ? AND is_active = ?", userID, true).Limit(1).Find(&agents).Error; err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}
	return &agents[0], nil
}

func deactivate(tx *gorm.DB, agent *models.Agent, revokedBy uint, at time.Time) error {
	agent.IsActive = false
	agent.RevokedAt = &at
	agent.RevokedByID = optionalID(revokedBy)
	return tx.Model(agent).Select("IsActive", "RevokedAt", "RevokedByID").Updates(agent).Error
}
