package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/config"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ensureSuperAdmin creates the bootstrap superadmin when the database has none.
// Without a configured password a random one is generated and logged once.
func ensureSuperAdmin(ctx context.Context, db *gorm.DB, svc *access.Service, cfg config.BootstrapSettings, log *zap.Logger) error {
	var count int64
	if err := db.WithContext(ctx).Model(&models.User{}).
		Where("role = ?", models.RoleSuperAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := cfg.AdminPassword
	generated := password == ""
	if generated {
		password = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	user, err := createSuperAdmin(ctx, db, svc, cfg.AdminEmail, password, cfg.AdminName)
	if err != nil {
		return err
	}

	fields := []zap.Field{zap.Uint("user_id", user.ID), zap.String("email", user.Email)}
	if generated {
		fields = append(fields, zap.String("password", password))
	}
	log.Warn("created bootstrap superadmin, change its password", fields...)
	return nil
}

// createSuperAdmin promotes the user registered with email, or creates an
// active one with the given password.
func createSuperAdmin(ctx context.Context, db *gorm.DB, svc *access.Service, email, password, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("an email is required")
	}

	existing, err := svc.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsActive {
			existing.IsActive = true
			if err := svc.SaveUser(ctx, existing); err != nil {
				return nil, err
			}
		}
		return svc.SetRole(ctx, existing.ID, models.RoleSuperAdmin)
	case !errors.Is(err, access.ErrNotFound):
		return nil, err
	}

	if err := auth.ValidatePassword(password, email); err != nil {
		return nil, fmt.Errorf("superadmin password: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "Administrator"
	}
	user := models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
		Role:         models.RoleSuperAdmin,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create superadmin %s: %w", logging.MaskEmail(email), err)
	}
	return &user, nil
}
